package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/link"
)

// Kind tags the record type a Variant implements.
type Kind uint8

const (
	// KindDecode is the multi-state decode input.
	KindDecode Kind = iota + 1
	// KindSelector is the N-way selector.
	KindSelector
)

// String returns the record type name used in definition files.
func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindSelector:
		return "selector"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind converts a record type name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "decode", "mbbi":
		return KindDecode, nil
	case "selector", "sel":
		return KindSelector, nil
	default:
		return 0, fmt.Errorf("unknown record type %q", s)
	}
}

// Priority selects the scheduler queue used for asynchronous completions
// and scan requests of a record.
type Priority uint8

const (
	// PriorityLow is the default priority.
	PriorityLow Priority = iota
	// PriorityMedium sits between low and high.
	PriorityMedium
	// PriorityHigh is served first.
	PriorityHigh
)

// PriorityCount is the number of distinct priorities.
const PriorityCount = 3

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority converts a priority name. An empty string is low.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

// Outcome is the result of a variant's compute step.
type Outcome uint8

const (
	// Done means the output field can be finalized in this call.
	Done Outcome = iota
	// Pending means device support armed a completion and the cycle
	// resumes through Core.Complete.
	Pending
)

// String names the outcome for logs and metrics.
func (o Outcome) String() string {
	if o == Pending {
		return "pending"
	}

	return "done"
}

// Cycle is the view of one processing cycle handed to a variant.
type Cycle struct {
	// Record is the record being processed.
	Record *Record
	// Alarms accumulates the alarm candidates of the cycle.
	Alarms *alarm.Arbiter
	// Links resolves input links on behalf of Record.
	Links link.Resolver
	// Resuming is true when the call is the completion of a pending cycle.
	Resuming bool
}

// Variant is the capability interface every record type implements.
type Variant interface {
	// Kind returns the record type tag.
	Kind() Kind
	// Init prepares derived state. A returned error marks the record unprocessable.
	Init(ctx context.Context, rec *Record) error
	// Compute reads inputs and derives the output value. When it returns
	// Pending, it is called again with cycle.Resuming set.
	Compute(ctx context.Context, cycle *Cycle) (Outcome, error)
	// CheckAlarms runs the variant's alarm rules in their fixed order.
	CheckAlarms(cycle *Cycle)
	// Sample exposes the committed output for monitor publication.
	Sample() monitor.Sample
	// Deadbands returns the monitor and archive deadbands.
	Deadbands() monitor.Deadbands
	// Field reads a variant field by upper-case name.
	Field(name string) (float64, bool)
	// PutField writes a variant field by upper-case name.
	PutField(name string, value float64) error
	// Teardown releases device resources.
	Teardown()
}

// EnumLabeler is implemented by variants whose output is a labeled state.
type EnumLabeler interface {
	// EnumLabel returns the label of the current state.
	EnumLabel() string
	// EnumLabels returns all configured labels up to the last non-empty one.
	EnumLabels() []string
	// PutEnumLabel sets the output to the state carrying label.
	PutEnumLabel(label string) error
}

// Sink receives the change notifications of processed records.
type Sink interface {
	Publish(event monitor.Event)
}

// Scheduler is the scan scheduler collaborator used for forward links.
type Scheduler interface {
	// RequestProcess enqueues a processing request and returns immediately.
	RequestProcess(name string)
}

// Persistent is implemented by variants with fields worth restoring after
// a restart.
type Persistent interface {
	// Settable lists the upper-case names of the preserved fields.
	Settable() []string
}
