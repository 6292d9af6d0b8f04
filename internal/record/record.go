package record

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
)

// Common field names served by every record.
const (
	FieldProcessActive = "PACT"
	FieldUndefined     = "UDF"
	FieldTime          = "TIME"
)

// Spec is the type-independent part of a record definition.
type Spec struct {
	// Name identifies the record in the database.
	Name string
	// Description is free text shown to operators.
	Description string
	// Kind is the declared record type; the bound variant must match it.
	Kind Kind
	// Scan is "passive" or a periodic schedule such as "@every 1s".
	Scan string
	// Priority selects the scheduler queue.
	Priority Priority
	// ForwardLink names the record to process after this one, if any.
	ForwardLink string
}

// Record is one schedulable unit of process state.
type Record struct {
	spec Spec

	// mu is the scan lock serializing every access to the fields below.
	mu sync.Mutex

	variant       Variant
	processActive bool
	valid         bool
	configErr     error

	udf       bool
	status    alarm.Status
	severity  alarm.Severity
	timestamp time.Time

	monitor   monitor.State
	arbiter   alarm.Arbiter
	startedAt time.Time

	overruns uint64
}

// New returns an unbound record that starts undefined and in invalid alarm.
func New(spec Spec) *Record {
	spec.Name = strings.TrimSpace(spec.Name)

	return &Record{
		spec:     spec,
		valid:    true,
		udf:      true,
		status:   alarm.StatusUDF,
		severity: alarm.Invalid,
		monitor: monitor.State{
			LastStatus:   alarm.StatusUDF,
			LastSeverity: alarm.Invalid,
		},
	}
}

// Bind attaches the record type implementation. A nil variant or a variant
// of another kind than the declared one is a configuration error.
func (r *Record) Bind(v Variant) error {
	if v == nil {
		return NewConfigurationError(r.spec.Name, "bind", ErrNoVariant)
	}

	if r.spec.Kind != 0 && v.Kind() != r.spec.Kind {
		return NewConfigurationError(
			r.spec.Name,
			fmt.Sprintf("bind %s implementation to %s record", v.Kind(), r.spec.Kind),
			nil,
		)
	}

	r.variant = v

	return nil
}

// Name returns the record name.
func (r *Record) Name() string {
	return r.spec.Name
}

// Spec returns the type-independent definition.
func (r *Record) Spec() Spec {
	return r.spec
}

// Variant returns the bound record type implementation, or nil.
func (r *Record) Variant() Variant {
	return r.variant
}

// Lock acquires the scan lock.
func (r *Record) Lock() {
	r.mu.Lock()
}

// TryLock acquires the scan lock if it is free.
func (r *Record) TryLock() bool {
	return r.mu.TryLock()
}

// Unlock releases the scan lock.
func (r *Record) Unlock() {
	r.mu.Unlock()
}

// Active reports whether a processing cycle is in flight.
func (r *Record) Active() bool {
	return r.processActive
}

// Valid reports whether the record is still part of the database.
func (r *Record) Valid() bool {
	return r.valid
}

// ConfigError returns the error that made the record unprocessable, if any.
func (r *Record) ConfigError() error {
	return r.configErr
}

// Reject marks the record unprocessable with an error found while building
// it, before Init could run.
func (r *Record) Reject(err *ConfigurationError) {
	r.markUnprocessable(err)
}

// markUnprocessable records a configuration error.
func (r *Record) markUnprocessable(err error) {
	r.configErr = err
}

// Undefined reports whether the output value has never been defined.
func (r *Record) Undefined() bool {
	return r.udf
}

// SetUndefined is used by variants to flag or clear the undefined value.
func (r *Record) SetUndefined(udf bool) {
	r.udf = udf
}

// Alarm returns the committed alarm of the last finished cycle.
func (r *Record) Alarm() alarm.Candidate {
	return alarm.Candidate{Status: r.status, Severity: r.severity}
}

// Timestamp returns the time the last cycle finished.
func (r *Record) Timestamp() time.Time {
	return r.timestamp
}

// Overruns returns how many process requests were refused because the
// record was busy.
func (r *Record) Overruns() uint64 {
	return r.overruns
}

// Field reads a field by name. Common fields are served by the record,
// everything else by the variant.
func (r *Record) Field(name string) (float64, error) {
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case monitor.FieldStatus:
		return float64(r.status), nil
	case monitor.FieldSeverity:
		return float64(r.severity), nil
	case FieldUndefined:
		return boolToFloat(r.udf), nil
	case FieldProcessActive:
		return boolToFloat(r.processActive), nil
	case FieldTime:
		if r.timestamp.IsZero() {
			return 0, nil
		}

		return float64(r.timestamp.UnixNano()) / float64(time.Second), nil
	}

	if r.variant != nil {
		if value, ok := r.variant.Field(name); ok {
			return value, nil
		}
	}

	return 0, fmt.Errorf("record %s field %s: %w", r.spec.Name, name, ErrUnknownField)
}

// PutField writes a variant field by name.
func (r *Record) PutField(name string, value float64) error {
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case monitor.FieldStatus, monitor.FieldSeverity, FieldUndefined, FieldProcessActive, FieldTime:
		return fmt.Errorf("record %s field %s: %w", r.spec.Name, name, ErrReadOnlyField)
	}

	if r.variant == nil {
		return NewConfigurationError(r.spec.Name, "put "+name, ErrNoVariant)
	}

	if err := r.variant.PutField(name, value); err != nil {
		return fmt.Errorf("record %s field %s: %w", r.spec.Name, name, err)
	}

	return nil
}

// EnumLabeler returns the labeled-state capability of the variant, if any.
func (r *Record) EnumLabeler() (EnumLabeler, bool) {
	labeler, ok := r.variant.(EnumLabeler)

	return labeler, ok
}

// Teardown removes the record from service. A pending completion is
// cancelled by the variant and any completion that already fired finds the
// record invalid.
func (r *Record) Teardown() {
	if !r.valid {
		return
	}

	r.valid = false

	if r.variant != nil {
		r.variant.Teardown()
	}
}

// boolToFloat renders a flag as a field value.
func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
