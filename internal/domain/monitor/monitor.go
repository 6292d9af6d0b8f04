package monitor

import (
	"math"
	"strings"
	"time"

	"github.com/oshokin/procdb/internal/domain/alarm"
)

// Kind is a bitmask of the reasons an event was published.
type Kind uint8

const (
	// ValueChanged is set when the value moved by more than the value deadband.
	ValueChanged Kind = 1 << iota
	// ArchiveChanged is set when the value moved by more than the archive deadband.
	ArchiveChanged
	// AlarmChanged is set when the status or severity changed.
	AlarmChanged
)

// Has reports whether all bits of other are set in k.
func (k Kind) Has(other Kind) bool {
	return k&other == other
}

// String renders the mask as "value|archive|alarm".
func (k Kind) String() string {
	if k == 0 {
		return "none"
	}

	parts := make([]string, 0, 3)
	if k.Has(ValueChanged) {
		parts = append(parts, "value")
	}

	if k.Has(ArchiveChanged) {
		parts = append(parts, "archive")
	}

	if k.Has(AlarmChanged) {
		parts = append(parts, "alarm")
	}

	return strings.Join(parts, "|")
}

// Field names published for every record.
const (
	FieldValue    = "VAL"
	FieldStatus   = "STAT"
	FieldSeverity = "SEVR"
)

// Event is one change notification for one field of one record.
type Event struct {
	Record    string
	Field     string
	Kind      Kind
	Value     float64
	Status    alarm.Status
	Severity  alarm.Severity
	Timestamp time.Time
}

// Deadbands configures how far a value must move before it is published.
type Deadbands struct {
	// Value is the monitor deadband (MDEL). Zero publishes on any change.
	Value float64 `yaml:"mdel"`
	// Archive is the archive deadband (ADEL). Zero publishes on any change.
	Archive float64 `yaml:"adel"`
}

// Secondary is a field published alongside the value field, such as the
// raw reading or the selector inputs.
type Secondary struct {
	Field string
	Value float64
}

// Sample is what a record exposes to the publisher after a completed cycle.
type Sample struct {
	Value       float64
	Secondaries []Secondary
}

// State holds the markers of the last published values of one record.
type State struct {
	LastValue    float64
	LastArchive  float64
	LastStatus   alarm.Status
	LastSeverity alarm.Severity
	secondaries  map[string]float64
}

// NewState returns markers primed with an initial value so that the first
// cycle only publishes real changes.
func NewState(initial float64) State {
	return State{
		LastValue:   initial,
		LastArchive: initial,
	}
}

// Exceeds reports whether next differs from marker by more than deadband.
// A zero deadband reduces to an exact inequality. A transition into or out
// of NaN always counts as a change.
func Exceeds(marker, next, deadband float64) bool {
	markerNaN, nextNaN := math.IsNaN(marker), math.IsNaN(next)
	if markerNaN || nextNaN {
		return markerNaN != nextNaN
	}

	return math.Abs(next-marker) > deadband
}

// Evaluate compares a completed cycle against the committed markers,
// commits the new markers, and returns the events to publish in delivery
// order: alarm fields first, then the value field, then secondaries.
// Events carry record identity and timestamp filled in by the caller.
func Evaluate(state *State, sample Sample, result alarm.Candidate, deadbands Deadbands) []Event {
	var (
		events []Event
		mask   Kind
	)

	if result.Status != state.LastStatus || result.Severity != state.LastSeverity {
		mask = AlarmChanged
		state.LastStatus = result.Status
		state.LastSeverity = result.Severity

		events = append(events,
			Event{Field: FieldStatus, Kind: AlarmChanged, Value: float64(result.Status)},
			Event{Field: FieldSeverity, Kind: AlarmChanged, Value: float64(result.Severity)},
		)
	}

	if Exceeds(state.LastValue, sample.Value, deadbands.Value) {
		mask |= ValueChanged
		state.LastValue = sample.Value
	}

	if Exceeds(state.LastArchive, sample.Value, deadbands.Archive) {
		mask |= ArchiveChanged
		state.LastArchive = sample.Value
	}

	if mask == 0 {
		return stamp(events, result)
	}

	events = append(events, Event{Field: FieldValue, Kind: mask, Value: sample.Value})

	if mask&(ValueChanged|ArchiveChanged) == 0 {
		return stamp(events, result)
	}

	if state.secondaries == nil {
		state.secondaries = make(map[string]float64, len(sample.Secondaries))
	}

	for _, secondary := range sample.Secondaries {
		previous, seen := state.secondaries[secondary.Field]
		if seen && !Exceeds(previous, secondary.Value, 0) {
			continue
		}

		state.secondaries[secondary.Field] = secondary.Value
		events = append(events, Event{Field: secondary.Field, Kind: mask | ValueChanged, Value: secondary.Value})
	}

	return stamp(events, result)
}

// stamp copies the cycle's alarm result into every event.
func stamp(events []Event, result alarm.Candidate) []Event {
	for i := range events {
		events[i].Status = result.Status
		events[i].Severity = result.Severity
	}

	return events
}

// PrimeSecondary sets the marker of a secondary field without publishing.
func (s *State) PrimeSecondary(field string, value float64) {
	if s.secondaries == nil {
		s.secondaries = make(map[string]float64)
	}

	s.secondaries[field] = value
}
