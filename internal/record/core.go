package record

import (
	"context"
	"errors"

	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/domain/alarm"
	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/metrics"
)

// Core drives processing cycles. It holds no per-record state and is safe
// for concurrent use on different records.
type Core struct {
	// target serves reference links.
	target link.Target
	// sink receives monitor events; nil discards them.
	sink Sink
	// scheduler receives forward-link requests; nil disables chaining.
	scheduler Scheduler
	// clock stamps finished cycles.
	clock clock.PassiveClock
}

// Option configures a Core.
type Option func(*Core)

// WithLinkTarget sets the record database used to fetch reference links.
func WithLinkTarget(target link.Target) Option {
	return func(c *Core) {
		c.target = target
	}
}

// WithSink sets the receiver of monitor events.
func WithSink(sink Sink) Option {
	return func(c *Core) {
		c.sink = sink
	}
}

// WithScheduler sets the scheduler used for forward links.
func WithScheduler(scheduler Scheduler) Option {
	return func(c *Core) {
		c.scheduler = scheduler
	}
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(clk clock.PassiveClock) Option {
	return func(c *Core) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// NewCore creates a Core with the provided collaborators.
func NewCore(opts ...Option) *Core {
	c := &Core{
		clock: clock.RealClock{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetScheduler attaches the scheduler after construction, which breaks the
// construction cycle between the scheduler and the core.
func (c *Core) SetScheduler(scheduler Scheduler) {
	c.scheduler = scheduler
}

// Init binds derived state of a record. A failure marks the record
// unprocessable and is returned as a ConfigurationError; the record stays in
// the database so that it can be reported and inspected.
func (c *Core) Init(ctx context.Context, rec *Record) error {
	if rec.variant == nil {
		err := NewConfigurationError(rec.Name(), "init", ErrNoVariant)
		rec.markUnprocessable(err)

		return err
	}

	if err := rec.variant.Init(ctx, rec); err != nil {
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			cfgErr = NewConfigurationError(rec.Name(), "init", err)
		}

		rec.markUnprocessable(cfgErr)

		return cfgErr
	}

	sample := rec.variant.Sample()

	markers := monitor.NewState(sample.Value)
	markers.LastStatus = rec.status
	markers.LastSeverity = rec.severity

	for _, secondary := range sample.Secondaries {
		markers.PrimeSecondary(secondary.Field, secondary.Value)
	}

	rec.monitor = markers

	return nil
}

// Process starts a new cycle. It is refused with ErrBusy while a cycle is
// already in flight.
func (c *Core) Process(ctx context.Context, rec *Record) error {
	if err := c.checkProcessable(rec, "process"); err != nil {
		return err
	}

	if rec.processActive {
		rec.overruns++
		metrics.ProcessCycles.WithLabelValues(rec.Name(), "refused").Inc()

		return ErrBusy
	}

	rec.processActive = true
	rec.startedAt = c.clock.Now()
	rec.arbiter.Reset()

	return c.run(ctx, rec, false)
}

// Complete is the completion entry point of the asynchronous bridge. It
// finishes the pending cycle of rec and is a no-op with a SchedulingError
// when nothing is pending.
func (c *Core) Complete(ctx context.Context, rec *Record) error {
	if err := c.checkProcessable(rec, "complete"); err != nil {
		return err
	}

	if !rec.processActive {
		return &SchedulingError{Record: rec.Name(), Op: "complete", Err: ErrNotPending}
	}

	return c.run(ctx, rec, true)
}

// checkProcessable rejects unbound, misconfigured and torn down records.
func (c *Core) checkProcessable(rec *Record, op string) error {
	if !rec.valid {
		return &SchedulingError{Record: rec.Name(), Op: op, Err: ErrTornDown}
	}

	if rec.configErr != nil {
		return rec.configErr
	}

	if rec.variant == nil {
		return NewConfigurationError(rec.Name(), op, ErrNoVariant)
	}

	return nil
}

// run executes the compute step and, when it is done, finishes the cycle.
func (c *Core) run(ctx context.Context, rec *Record, resuming bool) error {
	cycle := &Cycle{
		Record:   rec,
		Alarms:   &rec.arbiter,
		Links:    link.Resolver{Target: c.target, Requester: rec.Name()},
		Resuming: resuming,
	}

	outcome, err := rec.variant.Compute(ctx, cycle)
	if err != nil {
		// Device faults surface as a soft alarm and the cycle still finishes.
		logger.ErrorKV(ctx, "Record compute failed", "record", rec.Name(), "error", err)

		if errors.Is(err, ErrScheduling) {
			metrics.SchedulingErrors.WithLabelValues(rec.Name()).Inc()
		}

		rec.arbiter.Propose(alarm.StatusSoft, alarm.Invalid)

		outcome = Done
	}

	metrics.ProcessCycles.WithLabelValues(rec.Name(), outcome.String()).Inc()

	if outcome == Pending {
		logger.DebugKV(ctx, "Record awaiting device completion", "record", rec.Name())

		return nil
	}

	c.finish(ctx, cycle)

	return nil
}

// finish timestamps, arbitrates, publishes, chains and releases the record.
func (c *Core) finish(ctx context.Context, cycle *Cycle) {
	rec := cycle.Record
	rec.timestamp = c.clock.Now()

	rec.variant.CheckAlarms(cycle)

	result := rec.arbiter.Result()
	events := monitor.Evaluate(&rec.monitor, rec.variant.Sample(), result, rec.variant.Deadbands())

	rec.status = result.Status
	rec.severity = result.Severity

	metrics.AlarmSeverity.WithLabelValues(rec.Name()).Set(float64(result.Severity))
	metrics.ProcessLatency.WithLabelValues(rec.Name()).Observe(rec.timestamp.Sub(rec.startedAt).Seconds())

	for _, event := range events {
		event.Record = rec.Name()
		event.Timestamp = rec.timestamp

		metrics.EventsPublished.WithLabelValues(event.Kind.String()).Inc()

		if c.sink != nil {
			c.sink.Publish(event)
		}
	}

	if forward := rec.spec.ForwardLink; forward != "" && c.scheduler != nil {
		c.scheduler.RequestProcess(forward)
	}

	rec.processActive = false

	logger.DebugKV(ctx, "Record processed",
		"record", rec.Name(),
		"status", result.Status.String(),
		"severity", result.Severity.String(),
		"events", len(events),
	)
}
