package decode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oshokin/procdb/internal/device"
	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/record"
)

const (
	// StateCount is the number of configurable states.
	StateCount = 16
	// Unknown is the output value when the raw reading matches no state.
	Unknown uint16 = math.MaxUint16
	// IllegalValue is the label returned for an output outside the state table.
	IllegalValue = "Illegal Value"
	// FieldRaw is the raw value field.
	FieldRaw = "RVAL"
)

// statePrefixes name the sixteen states in field names (ZRVL, ONSV, ...).
//
//nolint:gochecknoglobals // Fixed table.
var statePrefixes = [StateCount]string{
	"ZR", "ON", "TW", "TH", "FR", "FV", "SX", "SV",
	"EI", "NI", "TE", "EL", "TV", "TT", "FT", "FF",
}

// State is one entry of the state table.
type State struct {
	Value    uint32         `yaml:"value"`
	Severity alarm.Severity `yaml:"severity"`
	Label    string         `yaml:"label"`
}

// Config is the decode part of a record definition.
type Config struct {
	// Bits is the number of significant raw bits (NOBT); zero disables masking.
	// The record masks the raw value itself, shifted by SHFT, before shifting
	// it down; device support hands over the raw reading unmasked.
	Bits uint8 `yaml:"nobt"`
	// Shift is applied to the raw value before matching (SHFT).
	Shift uint8 `yaml:"shft"`
	// States holds up to sixteen states in index order.
	States []State `yaml:"states"`
	// UnknownSeverity is raised when the output is not a configured state (UNSV).
	UnknownSeverity alarm.Severity `yaml:"unsv"`
	// ChangeSeverity is raised when the state changes (COSV).
	ChangeSeverity alarm.Severity `yaml:"cosv"`
}

// Decode is the multi-state decode variant.
type Decode struct {
	reader device.RawReader

	bits            uint8
	shift           uint8
	states          [StateCount]State
	unknownSeverity alarm.Severity
	changeSeverity  alarm.Severity

	mask          uint32
	statesDefined bool

	value     uint16
	raw       uint32
	lastAlarm uint16
}

// New validates cfg and returns an unbound decode variant reading through reader.
func New(cfg Config, reader device.RawReader) (*Decode, error) {
	if len(cfg.States) > StateCount {
		return nil, fmt.Errorf("%d states configured, at most %d allowed", len(cfg.States), StateCount)
	}

	if cfg.Bits > 32 {
		return nil, fmt.Errorf("nobt %d exceeds 32 bits", cfg.Bits)
	}

	if cfg.Shift >= 32 {
		return nil, fmt.Errorf("shft %d out of range", cfg.Shift)
	}

	d := &Decode{
		reader:          reader,
		bits:            cfg.Bits,
		shift:           cfg.Shift,
		unknownSeverity: cfg.UnknownSeverity,
		changeSeverity:  cfg.ChangeSeverity,
	}

	copy(d.states[:], cfg.States)

	return d, nil
}

// Kind implements record.Variant.
func (d *Decode) Kind() record.Kind {
	return record.KindDecode
}

// Init checks the device support, computes the mask and detects whether
// any state is configured.
func (d *Decode) Init(_ context.Context, rec *record.Record) error {
	if d.reader == nil {
		return record.NewConfigurationError(rec.Name(), "decode init", errors.New("missing device support"))
	}

	if checker, ok := d.reader.(device.Checker); ok {
		if err := checker.Check(); err != nil {
			return record.NewConfigurationError(rec.Name(), "decode device", err)
		}
	}

	d.updateMask()
	d.updateStatesDefined()

	return nil
}

func (d *Decode) updateMask() {
	if d.bits == 0 {
		d.mask = 0

		return
	}

	d.mask = uint32((uint64(1)<<d.bits)-1) << d.shift
}

func (d *Decode) updateStatesDefined() {
	d.statesDefined = false

	for _, state := range d.states {
		if state.Value != 0 {
			d.statesDefined = true

			return
		}
	}
}

// Compute reads the device and converts the raw value.
func (d *Decode) Compute(ctx context.Context, cycle *record.Cycle) (record.Outcome, error) {
	reading, err := d.reader.ReadRaw(ctx, &device.Request{
		Record:   cycle.Record.Name(),
		Links:    cycle.Links,
		Resuming: cycle.Resuming,
		Raw:      d.raw,
	})
	if err != nil {
		if errors.Is(err, link.ErrLinkUnavailable) {
			// The held value stays in place.
			cycle.Alarms.LinkFailure()

			return record.Done, nil
		}

		return record.Done, fmt.Errorf("read raw value: %w", err)
	}

	if reading.Pending {
		return record.Pending, nil
	}

	if reading.NoConvert {
		d.value = reading.Value
		cycle.Record.SetUndefined(false)

		return record.Done, nil
	}

	d.raw = reading.Raw
	d.convert(cycle.Record)

	return record.Done, nil
}

// convert maps the raw value to a state index.
func (d *Decode) convert(rec *record.Record) {
	raw := d.raw
	if d.mask != 0 {
		raw &= d.mask
	}

	raw >>= d.shift

	if !d.statesDefined {
		d.value = uint16(raw) //nolint:gosec // Raw values wider than 16 bits are truncated.
		rec.SetUndefined(false)

		return
	}

	for i, state := range d.states {
		if state.Value == raw {
			d.value = uint16(i)
			rec.SetUndefined(false)

			return
		}
	}

	d.value = Unknown
	rec.SetUndefined(true)
}

// CheckAlarms runs the undefined, state and change-of-state rules.
func (d *Decode) CheckAlarms(cycle *record.Cycle) {
	cycle.Alarms.CheckUndefined(cycle.Record.Undefined())

	if d.value >= StateCount {
		cycle.Alarms.Propose(alarm.StatusState, d.unknownSeverity)
	} else {
		cycle.Alarms.Propose(alarm.StatusState, d.states[d.value].Severity)
	}

	cycle.Alarms.CheckChangeOfState(d.value, &d.lastAlarm, d.changeSeverity)
}

// Sample publishes VAL with RVAL as a secondary field.
func (d *Decode) Sample() monitor.Sample {
	return monitor.Sample{
		Value:       float64(d.value),
		Secondaries: []monitor.Secondary{{Field: FieldRaw, Value: float64(d.raw)}},
	}
}

// Deadbands is zero: every state change is published.
func (d *Decode) Deadbands() monitor.Deadbands {
	return monitor.Deadbands{}
}

// Field implements record.Variant.
func (d *Decode) Field(name string) (float64, bool) {
	switch name {
	case monitor.FieldValue:
		return float64(d.value), true
	case FieldRaw:
		return float64(d.raw), true
	case "NOBT":
		return float64(d.bits), true
	case "SHFT":
		return float64(d.shift), true
	case "MASK":
		return float64(d.mask), true
	case "SDEF":
		if d.statesDefined {
			return 1, true
		}

		return 0, true
	case "UNSV":
		return float64(d.unknownSeverity), true
	case "COSV":
		return float64(d.changeSeverity), true
	case "LALM":
		return float64(d.lastAlarm), true
	}

	index, suffix, ok := stateField(name)
	if !ok {
		return 0, false
	}

	if suffix == "VL" {
		return float64(d.states[index].Value), true
	}

	return float64(d.states[index].Severity), true
}

// PutField implements record.Variant. Writing a state value recomputes
// whether any state is defined; writing SHFT recomputes the mask.
func (d *Decode) PutField(name string, value float64) error {
	switch name {
	case monitor.FieldValue:
		v, err := unsigned(value, math.MaxUint16)
		if err != nil {
			return err
		}

		d.value = uint16(v)

		return nil
	case FieldRaw:
		v, err := unsigned(value, math.MaxUint32)
		if err != nil {
			return err
		}

		d.raw = uint32(v)

		return nil
	case "SHFT":
		v, err := unsigned(value, 31)
		if err != nil {
			return err
		}

		d.shift = uint8(v)
		d.updateMask()

		return nil
	case "UNSV", "COSV":
		severity, err := severityValue(value)
		if err != nil {
			return err
		}

		if name == "UNSV" {
			d.unknownSeverity = severity
		} else {
			d.changeSeverity = severity
		}

		return nil
	case "NOBT", "MASK", "SDEF", "LALM":
		return record.ErrReadOnlyField
	}

	index, suffix, ok := stateField(name)
	if !ok {
		return record.ErrUnknownField
	}

	if suffix == "VL" {
		v, err := unsigned(value, math.MaxUint32)
		if err != nil {
			return err
		}

		d.states[index].Value = uint32(v)
		d.updateStatesDefined()

		return nil
	}

	severity, err := severityValue(value)
	if err != nil {
		return err
	}

	d.states[index].Severity = severity

	return nil
}

// Settable lists the fields preserved across restarts.
func (d *Decode) Settable() []string {
	fields := make([]string, 0, 2*StateCount+3)
	fields = append(fields, "SHFT", "UNSV", "COSV")

	for _, prefix := range statePrefixes {
		fields = append(fields, prefix+"VL", prefix+"SV")
	}

	return fields
}

// Teardown releases the device.
func (d *Decode) Teardown() {
	if releaser, ok := d.reader.(device.Releaser); ok {
		releaser.Release()
	}
}

// EnumLabel returns the label of the current state.
func (d *Decode) EnumLabel() string {
	if d.value >= StateCount {
		return IllegalValue
	}

	return d.states[d.value].Label
}

// EnumLabels returns the labels up to the last non-empty one.
func (d *Decode) EnumLabels() []string {
	count := 0

	for i, state := range d.states {
		if state.Label != "" {
			count = i + 1
		}
	}

	labels := make([]string, count)
	for i := range labels {
		labels[i] = d.states[i].Label
	}

	return labels
}

// PutEnumLabel selects the state carrying label. It only succeeds when
// states are defined.
func (d *Decode) PutEnumLabel(label string) error {
	if d.statesDefined {
		for i, state := range d.states {
			if state.Label == label {
				d.value = uint16(i)

				return nil
			}
		}
	}

	return fmt.Errorf("label %q: %w", label, record.ErrBadChoice)
}

// stateField splits a field name such as "TWVL" into (2, "VL").
func stateField(name string) (int, string, bool) {
	if len(name) != 4 {
		return 0, "", false
	}

	suffix := name[2:]
	if suffix != "VL" && suffix != "SV" {
		return 0, "", false
	}

	for i, prefix := range statePrefixes {
		if strings.HasPrefix(name, prefix) {
			return i, suffix, true
		}
	}

	return 0, "", false
}

// unsigned validates a non-negative integral field value.
func unsigned(value, limit float64) (uint64, error) {
	if math.IsNaN(value) || value < 0 || value > limit || value != math.Trunc(value) {
		return 0, fmt.Errorf("value %v: %w", value, record.ErrBadChoice)
	}

	return uint64(value), nil
}

// severityValue validates a severity written as a number.
func severityValue(value float64) (alarm.Severity, error) {
	v, err := unsigned(value, float64(alarm.Invalid))
	if err != nil {
		return alarm.NoAlarm, err
	}

	return alarm.Severity(v), nil
}
