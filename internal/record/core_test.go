package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
)

var errTestDevice = errors.New("device unplugged")

// fakeVariant is a minimal record type with a settable value.
type fakeVariant struct {
	kind       Kind
	value      float64
	next       float64
	pend       bool
	computeErr error
	initErr    error
	resumed    int
	torn       bool
}

func (f *fakeVariant) Kind() Kind {
	if f.kind == 0 {
		return KindDecode
	}

	return f.kind
}

func (f *fakeVariant) Init(context.Context, *Record) error { return f.initErr }

func (f *fakeVariant) Compute(_ context.Context, cycle *Cycle) (Outcome, error) {
	if cycle.Resuming {
		f.resumed++
	} else if f.pend {
		return Pending, nil
	}

	if f.computeErr != nil {
		return Done, f.computeErr
	}

	f.value = f.next
	cycle.Record.SetUndefined(false)

	return Done, nil
}

func (f *fakeVariant) CheckAlarms(cycle *Cycle) {
	cycle.Alarms.CheckUndefined(cycle.Record.Undefined())
}

func (f *fakeVariant) Sample() monitor.Sample { return monitor.Sample{Value: f.value} }

func (f *fakeVariant) Deadbands() monitor.Deadbands { return monitor.Deadbands{} }

func (f *fakeVariant) Field(name string) (float64, bool) {
	if name == monitor.FieldValue {
		return f.value, true
	}

	return 0, false
}

func (f *fakeVariant) PutField(name string, value float64) error {
	if name != monitor.FieldValue {
		return ErrUnknownField
	}

	f.value = value

	return nil
}

func (f *fakeVariant) Teardown() { f.torn = true }

// captureSink records published events.
type captureSink struct {
	events []monitor.Event
}

func (s *captureSink) Publish(event monitor.Event) {
	s.events = append(s.events, event)
}

// captureScheduler records forward-link requests.
type captureScheduler struct {
	requests []string
}

func (s *captureScheduler) RequestProcess(name string) {
	s.requests = append(s.requests, name)
}

func newTestRecord(t *testing.T, spec Spec, v Variant) *Record {
	t.Helper()

	rec := New(spec)
	require.NoError(t, rec.Bind(v))

	return rec
}

// TestCore_ProcessPublishesAlarmThenValue checks event order and stamping of a synchronous cycle.
func TestCore_ProcessPublishesAlarmThenValue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := new(captureSink)
	sched := new(captureScheduler)
	core := NewCore(WithSink(sink), WithScheduler(sched), WithClock(clocktesting.NewFakePassiveClock(now)))

	v := &fakeVariant{next: 3}
	rec := newTestRecord(t, Spec{Name: "pump", Kind: KindDecode, ForwardLink: "next"}, v)

	ctx := context.Background()
	require.NoError(t, core.Init(ctx, rec))
	require.NoError(t, core.Process(ctx, rec))

	require.False(t, rec.Active())
	require.Equal(t, alarm.None, rec.Alarm())
	require.Equal(t, now, rec.Timestamp())
	require.Equal(t, []string{"next"}, sched.requests)

	require.Len(t, sink.events, 3)
	require.Equal(t, monitor.FieldStatus, sink.events[0].Field)
	require.Equal(t, monitor.FieldSeverity, sink.events[1].Field)
	require.Equal(t, monitor.FieldValue, sink.events[2].Field)
	require.Equal(t, monitor.ValueChanged|monitor.ArchiveChanged|monitor.AlarmChanged, sink.events[2].Kind)

	for _, event := range sink.events {
		require.Equal(t, "pump", event.Record)
		require.Equal(t, now, event.Timestamp)
	}
}

// TestCore_PendingThenComplete finishes a cycle only when the completion arrives.
func TestCore_PendingThenComplete(t *testing.T) {
	t.Parallel()

	sink := new(captureSink)
	sched := new(captureScheduler)
	core := NewCore(WithSink(sink), WithScheduler(sched))

	v := &fakeVariant{next: 1, pend: true}
	rec := newTestRecord(t, Spec{Name: "slow", ForwardLink: "after"}, v)

	ctx := context.Background()
	require.NoError(t, core.Init(ctx, rec))
	require.NoError(t, core.Process(ctx, rec))

	require.True(t, rec.Active())
	require.Empty(t, sink.events)
	require.Empty(t, sched.requests)

	// A second request while pending is refused and counted.
	require.ErrorIs(t, core.Process(ctx, rec), ErrBusy)
	require.Equal(t, uint64(1), rec.Overruns())

	require.NoError(t, core.Complete(ctx, rec))
	require.False(t, rec.Active())
	require.Equal(t, 1, v.resumed)
	require.Equal(t, []string{"after"}, sched.requests)
	require.NotEmpty(t, sink.events)
}

// TestCore_CompleteWithoutPending is a scheduling error that changes nothing.
func TestCore_CompleteWithoutPending(t *testing.T) {
	t.Parallel()

	core := NewCore()
	rec := newTestRecord(t, Spec{Name: "idle"}, &fakeVariant{})
	require.NoError(t, core.Init(context.Background(), rec))

	err := core.Complete(context.Background(), rec)
	require.ErrorIs(t, err, ErrScheduling)
	require.ErrorIs(t, err, ErrNotPending)
	require.False(t, rec.Active())
}

// TestCore_UnprocessableRecords covers missing variants, failed init and teardown.
func TestCore_UnprocessableRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	core := NewCore()

	unbound := New(Spec{Name: "bare"})
	require.ErrorIs(t, core.Init(ctx, unbound), ErrConfiguration)
	require.ErrorIs(t, core.Process(ctx, unbound), ErrConfiguration)

	broken := newTestRecord(t, Spec{Name: "broken"}, &fakeVariant{initErr: errTestDevice})
	err := core.Init(ctx, broken)
	require.ErrorIs(t, err, ErrConfiguration)
	require.ErrorIs(t, err, errTestDevice)
	require.ErrorIs(t, core.Process(ctx, broken), ErrConfiguration)
	require.False(t, broken.Active())

	v := new(fakeVariant)
	gone := newTestRecord(t, Spec{Name: "gone"}, v)
	require.NoError(t, core.Init(ctx, gone))
	gone.Teardown()
	require.True(t, v.torn)
	require.ErrorIs(t, core.Process(ctx, gone), ErrScheduling)
	require.ErrorIs(t, core.Process(ctx, gone), ErrTornDown)
}

// TestCore_ComputeErrorRaisesSoftAlarm keeps the cycle finishing with an invalid soft alarm.
func TestCore_ComputeErrorRaisesSoftAlarm(t *testing.T) {
	t.Parallel()

	core := NewCore()
	v := &fakeVariant{computeErr: errTestDevice}
	rec := newTestRecord(t, Spec{Name: "faulty"}, v)

	ctx := context.Background()
	require.NoError(t, core.Init(ctx, rec))
	require.NoError(t, core.Process(ctx, rec))

	require.False(t, rec.Active())
	require.Equal(t, alarm.Candidate{Status: alarm.StatusSoft, Severity: alarm.Invalid}, rec.Alarm())
}

// TestCore_NoRepublishWithoutChange publishes nothing for an identical second cycle.
func TestCore_NoRepublishWithoutChange(t *testing.T) {
	t.Parallel()

	sink := new(captureSink)
	core := NewCore(WithSink(sink))
	rec := newTestRecord(t, Spec{Name: "steady"}, &fakeVariant{next: 5})

	ctx := context.Background()
	require.NoError(t, core.Init(ctx, rec))
	require.NoError(t, core.Process(ctx, rec))

	published := len(sink.events)

	require.NoError(t, core.Process(ctx, rec))
	require.Len(t, sink.events, published)
}

// TestRecord_Fields serves common fields and rejects writes to them.
func TestRecord_Fields(t *testing.T) {
	t.Parallel()

	v := &fakeVariant{value: 2}
	rec := newTestRecord(t, Spec{Name: "f"}, v)

	udf, err := rec.Field("udf")
	require.NoError(t, err)
	require.InDelta(t, 1.0, udf, 0)

	sevr, err := rec.Field("SEVR")
	require.NoError(t, err)
	require.InDelta(t, float64(alarm.Invalid), sevr, 0)

	val, err := rec.Field("VAL")
	require.NoError(t, err)
	require.InDelta(t, 2.0, val, 0)

	_, err = rec.Field("NOPE")
	require.ErrorIs(t, err, ErrUnknownField)

	require.ErrorIs(t, rec.PutField("STAT", 1), ErrReadOnlyField)
	require.NoError(t, rec.PutField("val", 7))
	require.InDelta(t, 7.0, v.value, 0)
}

// TestRecord_BindKindMismatch refuses a variant of another record type.
func TestRecord_BindKindMismatch(t *testing.T) {
	t.Parallel()

	rec := New(Spec{Name: "x", Kind: KindSelector})
	require.ErrorIs(t, rec.Bind(&fakeVariant{kind: KindDecode}), ErrConfiguration)
	require.ErrorIs(t, rec.Bind(nil), ErrConfiguration)
	require.NoError(t, rec.Bind(&fakeVariant{kind: KindSelector}))
}
