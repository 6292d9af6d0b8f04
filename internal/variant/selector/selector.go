package selector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/record"
)

// InputCount is the number of selectable inputs.
const InputCount = 12

//nolint:gochecknoglobals // Fixed table.
var inputFields = [InputCount]string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L"}

var (
	errIndexRange  = errors.New("selected index out of range")
	errNoInputs    = errors.New("no inputs to select from")
	errUnknownMode = errors.New("unknown selection mode")
)

// Mode is the selection algorithm (SELM).
type Mode uint8

const (
	// Indexed publishes the input named by the selection index.
	Indexed Mode = iota
	// Maximum publishes the highest of the twelve input values.
	Maximum
	// Minimum publishes the lowest of the twelve input values.
	Minimum
	// Median publishes the middle of the inputs fetched from other records.
	Median
)

// String returns the mode name used in definition files.
func (m Mode) String() string {
	switch m {
	case Indexed:
		return "indexed"
	case Maximum:
		return "max"
	case Minimum:
		return "min"
	case Median:
		return "median"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "indexed", "specified":
		return Indexed, nil
	case "max", "high":
		return Maximum, nil
	case "min", "low":
		return Minimum, nil
	case "median":
		return Median, nil
	default:
		return Indexed, fmt.Errorf("%w %q", errUnknownMode, s)
	}
}

// Config is the selector part of a record definition.
type Config struct {
	// Inputs are the links INPA..INPL in order.
	Inputs []link.Link `yaml:"inputs"`
	// IndexLink sources the selection index (NVL).
	IndexLink link.Link `yaml:"nvl"`
	// Index is the initial selection index (SELN).
	Index uint16 `yaml:"seln"`
	// Mode is the selection algorithm (SELM). Definition files carry it by
	// name and the loader parses it per record.
	Mode Mode `yaml:"-"`
	// Limits configures the analog alarms on the output.
	Limits alarm.Limits `yaml:"limits"`

	monitor.Deadbands `yaml:",inline"`

	Units       string  `yaml:"egu"`
	Precision   int16   `yaml:"prec"`
	DisplayHigh float64 `yaml:"hopr"`
	DisplayLow  float64 `yaml:"lopr"`
}

// Selector is the N-way selector variant.
type Selector struct {
	inputs    [InputCount]link.Link
	values    [InputCount]float64
	indexLink link.Link
	index     uint16
	mode      Mode

	limits    alarm.Limits
	deadbands monitor.Deadbands

	units       string
	precision   int16
	displayHigh float64
	displayLow  float64

	value     float64
	lastAlarm float64
}

// New validates cfg and returns an unbound selector.
func New(cfg Config) (*Selector, error) {
	if len(cfg.Inputs) > InputCount {
		return nil, fmt.Errorf("%d inputs configured, at most %d allowed", len(cfg.Inputs), InputCount)
	}

	if cfg.Mode > Median {
		return nil, fmt.Errorf("%w %s", errUnknownMode, cfg.Mode)
	}

	s := &Selector{
		indexLink:   cfg.IndexLink,
		index:       cfg.Index,
		mode:        cfg.Mode,
		limits:      cfg.Limits,
		deadbands:   cfg.Deadbands,
		units:       cfg.Units,
		precision:   cfg.Precision,
		displayHigh: cfg.DisplayHigh,
		displayLow:  cfg.DisplayLow,
	}

	copy(s.inputs[:], cfg.Inputs)

	return s, nil
}

// Kind implements record.Variant.
func (s *Selector) Kind() record.Kind {
	return record.KindSelector
}

// Init checks the mode and loads constant links into the index and input slots.
func (s *Selector) Init(_ context.Context, rec *record.Record) error {
	if s.mode > Median {
		return record.NewConfigurationError(rec.Name(), "selector selm", fmt.Errorf("%w %s", errUnknownMode, s.mode))
	}

	if s.indexLink.IsConstant() {
		index, err := link.Coerce(s.indexLink.Value(), link.UShort)
		if err != nil {
			return record.NewConfigurationError(rec.Name(), "selector nvl", err)
		}

		s.index = uint16(index)
	}

	for i, input := range s.inputs {
		if input.IsConstant() {
			s.values[i] = input.Value()
		}
	}

	return nil
}

// Compute fetches the inputs the mode needs and selects the output. A
// failed fetch keeps the held value and raises the link alarm; a failed
// selection keeps it and raises the calculation alarm.
func (s *Selector) Compute(ctx context.Context, cycle *record.Cycle) (record.Outcome, error) {
	if err := s.fetch(ctx, cycle.Links); err != nil {
		if errors.Is(err, link.ErrLinkUnavailable) {
			cycle.Alarms.LinkFailure()

			return record.Done, nil
		}

		return record.Done, err
	}

	value, err := s.selectValue()
	if err != nil {
		cycle.Alarms.CalcFailure()

		return record.Done, nil
	}

	s.value = value
	cycle.Record.SetUndefined(false)

	return record.Done, nil
}

// fetch resolves only the selected input in indexed mode and every
// reference input otherwise.
func (s *Selector) fetch(ctx context.Context, links link.Resolver) error {
	if s.mode == Indexed {
		if s.indexLink.IsReference() {
			index, err := links.Resolve(ctx, s.indexLink, link.UShort)
			if err != nil {
				return err
			}

			s.index = uint16(index)
		}

		if int(s.index) >= InputCount || !s.inputs[s.index].IsReference() {
			return nil
		}

		value, err := links.Resolve(ctx, s.inputs[s.index], link.Double)
		if err != nil {
			return err
		}

		s.values[s.index] = value

		return nil
	}

	for i, input := range s.inputs {
		if !input.IsReference() {
			continue
		}

		value, err := links.Resolve(ctx, input, link.Double)
		if err != nil {
			return err
		}

		s.values[i] = value
	}

	return nil
}

// selectValue applies the selection mode to the held input values.
func (s *Selector) selectValue() (float64, error) {
	switch s.mode {
	case Indexed:
		if int(s.index) >= InputCount {
			return 0, errIndexRange
		}

		return s.values[s.index], nil
	case Maximum, Minimum:
		best := s.values[0]

		for _, value := range s.values[1:] {
			if (s.mode == Maximum && value > best) || (s.mode == Minimum && value < best) {
				best = value
			}
		}

		return best, nil
	case Median:
		return s.median()
	default:
		return 0, errUnknownMode
	}
}

// median orders the reference-sourced inputs by insertion, largest first,
// and returns the entry at count/2.
func (s *Selector) median() (float64, error) {
	var (
		order [InputCount]float64
		count int
	)

	for i, input := range s.inputs {
		if !input.IsReference() {
			continue
		}

		value := s.values[i]

		j := count
		for j > 0 && order[j-1] < value {
			order[j] = order[j-1]
			j--
		}

		order[j] = value
		count++
	}

	if count == 0 {
		return 0, errNoInputs
	}

	return order[count/2], nil
}

// CheckAlarms runs the undefined and limit rules.
func (s *Selector) CheckAlarms(cycle *record.Cycle) {
	cycle.Alarms.CheckUndefined(cycle.Record.Undefined())
	s.limits.Check(cycle.Alarms, s.value, &s.lastAlarm)
}

// Sample publishes VAL with the inputs as secondary fields.
func (s *Selector) Sample() monitor.Sample {
	secondaries := make([]monitor.Secondary, InputCount)
	for i, name := range inputFields {
		secondaries[i] = monitor.Secondary{Field: name, Value: s.values[i]}
	}

	return monitor.Sample{Value: s.value, Secondaries: secondaries}
}

// Deadbands implements record.Variant.
func (s *Selector) Deadbands() monitor.Deadbands {
	return s.deadbands
}

// Units returns the engineering units of the output.
func (s *Selector) Units() string {
	return s.units
}

// floatField returns the float field called name, or nil.
func (s *Selector) floatField(name string) *float64 {
	switch name {
	case "HIHI":
		return &s.limits.HiHi
	case "HIGH":
		return &s.limits.High
	case "LOW":
		return &s.limits.Low
	case "LOLO":
		return &s.limits.LoLo
	case "HYST":
		return &s.limits.Hysteresis
	case "MDEL":
		return &s.deadbands.Value
	case "ADEL":
		return &s.deadbands.Archive
	case "HOPR":
		return &s.displayHigh
	case "LOPR":
		return &s.displayLow
	case monitor.FieldValue:
		return &s.value
	}

	for i, input := range inputFields {
		if input == name {
			return &s.values[i]
		}
	}

	return nil
}

func (s *Selector) severityField(name string) *alarm.Severity {
	switch name {
	case "HHSV":
		return &s.limits.HiHiSeverity
	case "HSV":
		return &s.limits.HighSeverity
	case "LSV":
		return &s.limits.LowSeverity
	case "LLSV":
		return &s.limits.LoLoSeverity
	}

	return nil
}

// Field implements record.Variant.
func (s *Selector) Field(name string) (float64, bool) {
	if p := s.floatField(name); p != nil {
		return *p, true
	}

	if p := s.severityField(name); p != nil {
		return float64(*p), true
	}

	switch name {
	case "SELN":
		return float64(s.index), true
	case "SELM":
		return float64(s.mode), true
	case "PREC":
		return float64(s.precision), true
	case "LALM":
		return s.lastAlarm, true
	}

	return 0, false
}

// PutField implements record.Variant.
func (s *Selector) PutField(name string, value float64) error {
	if p := s.floatField(name); p != nil {
		*p = value

		return nil
	}

	if p := s.severityField(name); p != nil {
		if !integral(value, float64(alarm.Invalid)) {
			return fmt.Errorf("severity %v: %w", value, record.ErrBadChoice)
		}

		*p = alarm.Severity(value)

		return nil
	}

	switch name {
	case "SELN":
		if !integral(value, math.MaxUint16) {
			return fmt.Errorf("index %v: %w", value, record.ErrBadChoice)
		}

		s.index = uint16(value)

		return nil
	case "SELM":
		if !integral(value, math.MaxUint8) {
			return fmt.Errorf("mode %v: %w", value, record.ErrBadChoice)
		}

		s.mode = Mode(value)

		return nil
	case "PREC":
		if !integral(value, math.MaxInt16) {
			return fmt.Errorf("precision %v: %w", value, record.ErrBadChoice)
		}

		s.precision = int16(value)

		return nil
	case "LALM":
		return record.ErrReadOnlyField
	}

	return record.ErrUnknownField
}

// Settable lists the fields preserved across restarts.
func (s *Selector) Settable() []string {
	return []string{
		"SELN", "SELM",
		"HIHI", "HIGH", "LOW", "LOLO",
		"HHSV", "HSV", "LSV", "LLSV",
		"HYST", "MDEL", "ADEL",
	}
}

// Teardown implements record.Variant. The selector owns no device.
func (s *Selector) Teardown() {}

func integral(value, limit float64) bool {
	return !math.IsNaN(value) && value >= 0 && value <= limit && value == math.Trunc(value)
}
