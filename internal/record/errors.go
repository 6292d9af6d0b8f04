package record

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("record configuration error")
	// ErrScheduling is matched by every SchedulingError.
	ErrScheduling = errors.New("record scheduling error")
	// ErrBusy means a cycle is already in flight for the record.
	ErrBusy = errors.New("record is processing")
	// ErrNoVariant means no record type implementation is bound.
	ErrNoVariant = errors.New("no variant bound")
	// ErrNotPending means a completion arrived while no cycle was waiting.
	ErrNotPending = errors.New("no pending cycle")
	// ErrTornDown means the record was removed from the database.
	ErrTornDown = errors.New("record torn down")
	// ErrUnknownField means the record has no such field.
	ErrUnknownField = errors.New("unknown field")
	// ErrReadOnlyField means the field cannot be written.
	ErrReadOnlyField = errors.New("field is read-only")
	// ErrBadChoice means an enumerated value or label is not valid.
	ErrBadChoice = errors.New("bad choice")
)

// ConfigurationError is fatal to the initialization of one record. The
// record is marked unprocessable; the engine keeps running.
type ConfigurationError struct {
	Record string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("record %s: configuration: %s", e.Record, e.Reason)
	}

	return fmt.Sprintf("record %s: configuration: %s: %v", e.Record, e.Reason, e.Err)
}

// Unwrap exposes the cause.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// SchedulingError is a contract violation by a caller of the core or of the
// completion bridge. The offending call is a no-op.
type SchedulingError struct {
	Record string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *SchedulingError) Error() string {
	return fmt.Sprintf("record %s: %s: %v", e.Record, e.Op, e.Err)
}

// Unwrap exposes the cause.
func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// Is makes every SchedulingError match ErrScheduling.
func (e *SchedulingError) Is(target error) bool {
	return target == ErrScheduling
}

// NewConfigurationError builds a ConfigurationError for the named record.
func NewConfigurationError(name, reason string, err error) *ConfigurationError {
	return &ConfigurationError{Record: name, Reason: reason, Err: err}
}
