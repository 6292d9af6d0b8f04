package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/procdb/internal/completion"
	"github.com/oshokin/procdb/internal/link"
)

// Request is handed to a RawReader once per compute step.
type Request struct {
	// Record is the name of the requesting record.
	Record string
	// Links resolves input links on behalf of Record.
	Links link.Resolver
	// Resuming is true when the step completes a pending read.
	Resuming bool
	// Raw is the raw value currently held by the record.
	Raw uint32
}

// Reading is the result of one read.
type Reading struct {
	// Pending means a completion was armed and the read finishes later.
	Pending bool
	// Raw is the raw value read from the device.
	Raw uint32
	// NoConvert means the device produced the final state index in Value
	// and the record must skip raw conversion.
	NoConvert bool
	// Value is the state index when NoConvert is set.
	Value uint16
}

// RawReader reads the raw value of a multi-state input.
type RawReader interface {
	ReadRaw(ctx context.Context, req *Request) (Reading, error)
}

// Checker is implemented by readers whose configuration can be validated
// when the record is initialized.
type Checker interface {
	Check() error
}

// Releaser is implemented by readers owning resources that must be freed
// when the record is torn down.
type Releaser interface {
	Release()
}

// SoftRaw reads the raw value from the INP link. An unconfigured link
// keeps the raw value already held by the record, which lets clients write
// it directly.
type SoftRaw struct {
	Input link.Link
}

// ReadRaw implements RawReader.
func (s *SoftRaw) ReadRaw(ctx context.Context, req *Request) (Reading, error) {
	if !s.Input.Configured() {
		return Reading{Raw: req.Raw}, nil
	}

	value, err := req.Links.Resolve(ctx, s.Input, link.ULong)
	if err != nil {
		return Reading{}, err
	}

	return Reading{Raw: uint32(value)}, nil
}

// Check implements Checker. A constant INP must fit the raw value.
func (s *SoftRaw) Check() error {
	if err := s.Input.Check(link.ULong); err != nil {
		return fmt.Errorf("inp: %w", err)
	}

	return nil
}

// Async completes the wrapped reader after a delay, through the record's
// completion context. A non-positive delay reads synchronously.
type Async struct {
	Inner      RawReader
	Completion *completion.Context
	Delay      time.Duration
}

// ReadRaw implements RawReader.
func (a *Async) ReadRaw(ctx context.Context, req *Request) (Reading, error) {
	if req.Resuming {
		a.Completion.Consume()

		return a.Inner.ReadRaw(ctx, req)
	}

	armed, err := a.Completion.Schedule(a.Delay)
	if err != nil {
		return Reading{}, err
	}

	if !armed {
		return a.Inner.ReadRaw(ctx, req)
	}

	return Reading{Pending: true}, nil
}

// Check implements Checker by checking the wrapped reader.
func (a *Async) Check() error {
	if checker, ok := a.Inner.(Checker); ok {
		return checker.Check()
	}

	return nil
}

// Release implements Releaser.
func (a *Async) Release() {
	a.Completion.Release()
}

// Names of the supported device types.
const (
	TypeSoftRaw   = "soft_raw"
	TypeAsyncSoft = "async_soft"
)

// New builds the reader named by typ. The completion context is only used
// by asynchronous readers.
func New(typ string, input link.Link, delay time.Duration, ctx *completion.Context) (RawReader, error) {
	soft := &SoftRaw{Input: input}

	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", TypeSoftRaw:
		return soft, nil
	case TypeAsyncSoft:
		if ctx == nil {
			return nil, fmt.Errorf("device %s needs a completion context", TypeAsyncSoft)
		}

		return &Async{Inner: soft, Completion: ctx, Delay: delay}, nil
	default:
		return nil, fmt.Errorf("unknown device type %q", typ)
	}
}
