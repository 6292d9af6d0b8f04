package link

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tells how a link is sourced.
type Kind uint8

const (
	// KindNone is an unconfigured link.
	KindNone Kind = iota
	// KindConstant is a literal value.
	KindConstant
	// KindReference points at a field of a record.
	KindReference
)

// DefaultField is the field read when a reference names only a record.
const DefaultField = "VAL"

// FieldRef identifies one field of one record. The record is referenced by
// name and looked up at fetch time; a link never owns its target.
type FieldRef struct {
	Record string
	Field  string
}

// String renders the reference as "record.FIELD".
func (r FieldRef) String() string {
	return r.Record + "." + r.Field
}

// Link is an immutable input specification.
type Link struct {
	kind     Kind
	constant float64
	ref      FieldRef
}

// Constant returns a literal link.
func Constant(value float64) Link {
	return Link{kind: KindConstant, constant: value}
}

// Reference returns a link to a record field. An empty field selects VAL.
func Reference(record, field string) Link {
	if field == "" {
		field = DefaultField
	}

	return Link{kind: KindReference, ref: FieldRef{Record: record, Field: strings.ToUpper(field)}}
}

// Kind returns how the link is sourced.
func (l Link) Kind() Kind {
	return l.kind
}

// IsConstant reports whether the link holds a literal.
func (l Link) IsConstant() bool {
	return l.kind == KindConstant
}

// IsReference reports whether the link points at another record.
func (l Link) IsReference() bool {
	return l.kind == KindReference
}

// Configured reports whether the link was set at all.
func (l Link) Configured() bool {
	return l.kind != KindNone
}

// Value returns the literal of a constant link.
func (l Link) Value() float64 {
	return l.constant
}

// Check reports whether a constant literal is representable as want.
// Reference and unset links always pass.
func (l Link) Check(want Type) error {
	if l.kind != KindConstant {
		return nil
	}

	_, err := Coerce(l.constant, want)

	return err
}

// Ref returns the target of a reference link.
func (l Link) Ref() FieldRef {
	return l.ref
}

// String renders the link the way Parse accepts it.
func (l Link) String() string {
	switch l.kind {
	case KindConstant:
		return strconv.FormatFloat(l.constant, 'g', -1, 64)
	case KindReference:
		return l.ref.String()
	default:
		return ""
	}
}

var errEmptyRecordName = errors.New("empty record name in link")

// Parse converts a textual link: a number is a constant, anything else is
// "record" or "record.FIELD". An empty string is an unconfigured link.
func Parse(s string) (Link, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Link{}, nil
	}

	if value, err := strconv.ParseFloat(s, 64); err == nil {
		return Constant(value), nil
	}

	record, field := s, DefaultField
	if i := strings.LastIndexByte(s, '.'); i >= 0 && isFieldName(s[i+1:]) {
		record, field = s[:i], s[i+1:]
	}

	if record == "" {
		return Link{}, fmt.Errorf("parse link %q: %w", s, errEmptyRecordName)
	}

	return Reference(record, field), nil
}

// isFieldName reports whether s looks like a field name: up to four letters or digits.
func isFieldName(s string) bool {
	if s == "" || len(s) > 4 {
		return false
	}

	for _, r := range strings.ToUpper(s) {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}

	return true
}

// UnmarshalYAML lets links be written as strings or numbers in record definition files.
func (l *Link) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}

	parsed, err := Parse(raw)
	if err != nil {
		return err
	}

	*l = parsed

	return nil
}

// Type is the representation a caller expects a fetched value in.
type Type uint8

const (
	// Double is a float64.
	Double Type = iota
	// UShort is an unsigned 16-bit integer.
	UShort
	// ULong is an unsigned 32-bit integer.
	ULong
)

// String names the type for error messages.
func (t Type) String() string {
	switch t {
	case Double:
		return "double"
	case UShort:
		return "ushort"
	case ULong:
		return "ulong"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Coerce converts a fetched value into the requested representation.
// Integer types truncate toward zero and reject values that do not fit.
func Coerce(value float64, want Type) (float64, error) {
	switch want {
	case Double:
		return value, nil
	case UShort:
		return coerceUnsigned(value, math.MaxUint16, want)
	case ULong:
		return coerceUnsigned(value, math.MaxUint32, want)
	default:
		return 0, fmt.Errorf("%w: unsupported type %s", ErrTypeMismatch, want)
	}
}

// coerceUnsigned truncates value and checks it fits in [0, limit].
func coerceUnsigned(value, limit float64, want Type) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %v is not representable as %s", ErrTypeMismatch, value, want)
	}

	truncated := math.Trunc(value)
	if truncated < 0 || truncated > limit {
		return 0, fmt.Errorf("%w: %v is out of range for %s", ErrTypeMismatch, value, want)
	}

	return truncated, nil
}

// Target is the link target interface of the record database.
// requester names the record on whose behalf the fetch runs.
type Target interface {
	Fetch(ctx context.Context, requester string, ref FieldRef) (float64, error)
}
