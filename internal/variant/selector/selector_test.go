package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/record"
)

// valueTarget serves "rec.VAL" values and counts fetches per reference.
type valueTarget struct {
	values  map[string]float64
	fetches map[string]int
}

func newValueTarget(values map[string]float64) *valueTarget {
	return &valueTarget{values: values, fetches: make(map[string]int)}
}

func (v *valueTarget) Fetch(_ context.Context, _ string, ref link.FieldRef) (float64, error) {
	v.fetches[ref.String()]++

	value, ok := v.values[ref.Record]
	if !ok {
		return 0, link.ErrTargetNotFound
	}

	return value, nil
}

func refs(names ...string) []link.Link {
	links := make([]link.Link, len(names))
	for i, name := range names {
		links[i] = link.Reference(name, "")
	}

	return links
}

func newSelectorRecord(t *testing.T, cfg Config, target link.Target) (*record.Core, *record.Record, *Selector) {
	t.Helper()

	core := record.NewCore(record.WithLinkTarget(target))

	s, err := New(cfg)
	require.NoError(t, err)

	rec := record.New(record.Spec{Name: "sel", Kind: record.KindSelector})
	require.NoError(t, rec.Bind(s))
	require.NoError(t, core.Init(context.Background(), rec))

	return core, rec, s
}

func processValue(t *testing.T, core *record.Core, rec *record.Record) float64 {
	t.Helper()

	require.NoError(t, core.Process(context.Background(), rec))

	value, err := rec.Field("VAL")
	require.NoError(t, err)

	return value
}

// TestSelector_MedianEvenCount selects the entry at count/2 of the ordered references.
func TestSelector_MedianEvenCount(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 5, "b": 1, "c": 9, "d": 3})
	core, rec, _ := newSelectorRecord(t, Config{Mode: Median, Inputs: refs("a", "b", "c", "d")}, target)

	require.InDelta(t, 3.0, processValue(t, core, rec), 0)
	require.Equal(t, alarm.None, rec.Alarm())
}

// TestSelector_MedianOddCount selects the true median.
func TestSelector_MedianOddCount(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 7, "b": 2, "c": 4})
	core, rec, _ := newSelectorRecord(t, Config{Mode: Median, Inputs: refs("a", "b", "c")}, target)

	require.InDelta(t, 4.0, processValue(t, core, rec), 0)
}

// TestSelector_MedianIgnoresConstants orders only inputs fetched from other records.
func TestSelector_MedianIgnoresConstants(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 10, "b": 20, "c": 30})
	inputs := append([]link.Link{link.Constant(1000)}, refs("a", "b", "c")...)
	core, rec, _ := newSelectorRecord(t, Config{Mode: Median, Inputs: inputs}, target)

	require.InDelta(t, 20.0, processValue(t, core, rec), 0)
}

// TestSelector_MedianWithoutReferences is a calculation failure.
func TestSelector_MedianWithoutReferences(t *testing.T) {
	t.Parallel()

	core, rec, _ := newSelectorRecord(t, Config{Mode: Median, Inputs: []link.Link{link.Constant(1)}}, nil)

	require.NoError(t, core.Process(context.Background(), rec))
	require.Equal(t, alarm.Candidate{Status: alarm.StatusCalc, Severity: alarm.Invalid}, rec.Alarm())
	require.True(t, rec.Undefined())
}

// TestSelector_MaxMin scans all twelve input values, unconfigured ones included.
func TestSelector_MaxMin(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": -4, "b": -2})
	inputs := refs("a", "b")

	// The unset slots hold zero and win over negative inputs.
	core, rec, _ := newSelectorRecord(t, Config{Mode: Maximum, Inputs: inputs}, target)
	require.InDelta(t, 0.0, processValue(t, core, rec), 0)

	require.NoError(t, rec.PutField("E", 100))
	require.InDelta(t, 100.0, processValue(t, core, rec), 0)

	core, rec, _ = newSelectorRecord(t, Config{Mode: Minimum, Inputs: inputs}, target)
	require.InDelta(t, -4.0, processValue(t, core, rec), 0)

	require.NoError(t, rec.PutField("L", -50))
	require.InDelta(t, -50.0, processValue(t, core, rec), 0)
}

// TestSelector_IndexedFetchesOnlySelected resolves the index link and one input.
func TestSelector_IndexedFetchesOnlySelected(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 1, "b": 2, "c": 3, "idx": 2})
	cfg := Config{Mode: Indexed, Inputs: refs("a", "b", "c"), IndexLink: link.Reference("idx", "")}
	core, rec, _ := newSelectorRecord(t, cfg, target)

	require.InDelta(t, 3.0, processValue(t, core, rec), 0)
	require.Equal(t, 1, target.fetches["c.VAL"])
	require.Zero(t, target.fetches["a.VAL"])
	require.Zero(t, target.fetches["b.VAL"])
}

// TestSelector_IndexedConstants reads constant inputs loaded at init.
func TestSelector_IndexedConstants(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Mode:      Indexed,
		Inputs:    []link.Link{link.Constant(1.5), link.Constant(2.5)},
		IndexLink: link.Constant(1),
	}
	core, rec, _ := newSelectorRecord(t, cfg, nil)

	require.InDelta(t, 2.5, processValue(t, core, rec), 0)
}

// TestSelector_IndexOutOfRange raises the calculation alarm and keeps the value.
func TestSelector_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	cfg := Config{Mode: Indexed, Inputs: []link.Link{link.Constant(8)}}
	core, rec, _ := newSelectorRecord(t, cfg, nil)

	require.InDelta(t, 8.0, processValue(t, core, rec), 0)

	require.NoError(t, rec.PutField("SELN", 12))
	require.InDelta(t, 8.0, processValue(t, core, rec), 0)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusCalc, Severity: alarm.Invalid}, rec.Alarm())
}

// TestSelector_UnknownModeAtRuntime raises the calculation alarm without updating the output.
func TestSelector_UnknownModeAtRuntime(t *testing.T) {
	t.Parallel()

	cfg := Config{Mode: Indexed, Inputs: []link.Link{link.Constant(6)}}
	core, rec, _ := newSelectorRecord(t, cfg, nil)

	require.InDelta(t, 6.0, processValue(t, core, rec), 0)

	require.NoError(t, rec.PutField("SELM", 9))
	require.NoError(t, rec.PutField("A", 99))
	require.InDelta(t, 6.0, processValue(t, core, rec), 0)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusCalc, Severity: alarm.Invalid}, rec.Alarm())
}

// TestSelector_LinkFailureKeepsValue holds the output and raises the link alarm.
func TestSelector_LinkFailureKeepsValue(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 4, "b": 6})
	core, rec, _ := newSelectorRecord(t, Config{Mode: Maximum, Inputs: refs("a", "b")}, target)

	require.InDelta(t, 6.0, processValue(t, core, rec), 0)

	delete(target.values, "b")
	target.values["a"] = 100

	require.InDelta(t, 6.0, processValue(t, core, rec), 0)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusLink, Severity: alarm.Invalid}, rec.Alarm())
}

// TestSelector_LimitAlarms raises hihi and then holds high inside the hysteresis band.
func TestSelector_LimitAlarms(t *testing.T) {
	t.Parallel()

	target := newValueTarget(map[string]float64{"a": 50})
	cfg := Config{
		Mode:   Indexed,
		Inputs: refs("a"),
		Limits: alarm.Limits{
			HiHi: 90, High: 70, Low: 10, LoLo: 0,
			HiHiSeverity: alarm.Major, HighSeverity: alarm.Minor,
			Hysteresis: 5,
		},
	}
	core, rec, _ := newSelectorRecord(t, cfg, target)

	processValue(t, core, rec)
	require.Equal(t, alarm.None, rec.Alarm())

	target.values["a"] = 95
	processValue(t, core, rec)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusHiHi, Severity: alarm.Major}, rec.Alarm())

	// 92 is within the hysteresis band of the latched 95.
	target.values["a"] = 92
	processValue(t, core, rec)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusHiHi, Severity: alarm.Major}, rec.Alarm())

	target.values["a"] = 75
	processValue(t, core, rec)
	require.Equal(t, alarm.Candidate{Status: alarm.StatusHigh, Severity: alarm.Minor}, rec.Alarm())
}

// TestSelector_Deadband publishes VAL only when it moves by more than MDEL.
func TestSelector_Deadband(t *testing.T) {
	t.Parallel()

	var events []monitor.Event

	target := newValueTarget(map[string]float64{"a": 10})
	core := record.NewCore(record.WithLinkTarget(target), record.WithSink(sinkFunc(func(e monitor.Event) {
		events = append(events, e)
	})))

	s, err := New(Config{Mode: Indexed, Inputs: refs("a"), Deadbands: monitor.Deadbands{Value: 1, Archive: 1}})
	require.NoError(t, err)

	rec := record.New(record.Spec{Name: "sel"})
	require.NoError(t, rec.Bind(s))

	ctx := context.Background()
	require.NoError(t, core.Init(ctx, rec))
	require.NoError(t, core.Process(ctx, rec))

	events = nil
	target.values["a"] = 11
	require.NoError(t, core.Process(ctx, rec))
	require.Empty(t, events)

	target.values["a"] = 11.5
	require.NoError(t, core.Process(ctx, rec))
	require.NotEmpty(t, events)
	require.Equal(t, monitor.FieldValue, events[0].Field)
	require.InDelta(t, 11.5, events[0].Value, 0)
	require.Equal(t, "A", events[1].Field)
}

// TestConfig_YAML decodes a selector definition.
func TestConfig_YAML(t *testing.T) {
	t.Parallel()

	var cfg Config

	doc := `
inputs: ["t1", "t2", 3]
selm: median
mdel: 0.5
egu: degC
limits:
  hihi: 80
  hhsv: MAJOR
`
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))
	// The mode is parsed per record by the loader.
	require.Equal(t, Indexed, cfg.Mode)
	require.Len(t, cfg.Inputs, 3)
	require.InDelta(t, 0.5, cfg.Value, 0)
	require.Equal(t, "degC", cfg.Units)
	require.Equal(t, alarm.Major, cfg.Limits.HiHiSeverity)

	_, err := New(Config{Inputs: make([]link.Link, InputCount+1)})
	require.Error(t, err)
}

// TestParseMode accepts mode names and aliases.
func TestParseMode(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Mode{
		"": Indexed, "specified": Indexed, "MAX": Maximum, "low": Minimum, " median ": Median,
	} {
		got, err := ParseMode(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}

	_, err := ParseMode("average")
	require.ErrorIs(t, err, errUnknownMode)
}

// TestSelector_UnknownModeRejected fails construction and initialization with a bad mode.
func TestSelector_UnknownModeRejected(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Mode: Mode(9)})
	require.ErrorIs(t, err, errUnknownMode)

	rec := record.New(record.Spec{Name: "sel", Kind: record.KindSelector})
	require.NoError(t, rec.Bind(&Selector{mode: Mode(9)}))

	err = record.NewCore().Init(context.Background(), rec)
	require.ErrorIs(t, err, record.ErrConfiguration)
	require.ErrorIs(t, err, errUnknownMode)
	require.ErrorIs(t, rec.ConfigError(), record.ErrConfiguration)
}

// sinkFunc adapts a function to record.Sink.
type sinkFunc func(monitor.Event)

func (f sinkFunc) Publish(e monitor.Event) { f(e) }
