package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/metrics"
	"github.com/oshokin/procdb/internal/record"
)

// DefaultWorkers is the size of the worker pool when none is configured.
const DefaultWorkers = 4

// ErrStopped means the scheduler no longer accepts requests.
var ErrStopped = errors.New("scheduler stopped")

// Scheduler serves process and completion requests for one database.
type Scheduler struct {
	db      *database.Database
	core    *record.Core
	clock   clock.Clock
	workers int

	signal chan struct{}
	queues [record.PriorityCount]*requestQueue

	// log is the named logger context captured by Run.
	mu  sync.RWMutex
	log context.Context //nolint:containedctx // Used only for logging from enqueue paths.
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock replaces the wall clock used by periodic scans.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// New returns a scheduler for db. It does not start any goroutine.
func New(db *database.Database, core *record.Core, opts ...Option) *Scheduler {
	s := &Scheduler{
		db:      db,
		core:    core,
		clock:   clock.RealClock{},
		workers: DefaultWorkers,
		signal:  make(chan struct{}, 1),
		log:     context.Background(),
	}

	for i := range s.queues {
		s.queues[i] = newRequestQueue(s.signal)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RequestProcess implements record.Scheduler. The request is queued at the
// record's priority and the call returns immediately.
func (s *Scheduler) RequestProcess(name string) {
	rec, ok := s.db.Get(name)
	if !ok {
		s.schedulingError(name, "request process", database.ErrRecordNotFound)

		return
	}

	s.enqueue(rec.Spec().Priority, request{kind: requestProcess, name: name})
}

// CompleteProcess implements completion.Reentry.
func (s *Scheduler) CompleteProcess(name string, priority record.Priority, token uint64) {
	s.enqueue(priority, request{kind: requestComplete, name: name, token: token})
}

// ProcessNow runs one cycle of the named record in the calling goroutine.
// It returns record.ErrBusy while a cycle is in flight.
func (s *Scheduler) ProcessNow(ctx context.Context, name string) error {
	rec, ok := s.db.Get(name)
	if !ok {
		return fmt.Errorf("process %s: %w", name, database.ErrRecordNotFound)
	}

	rec.Lock()
	defer rec.Unlock()

	return s.core.Process(ctx, rec)
}

// QueueLen returns the number of queued requests over all priorities.
func (s *Scheduler) QueueLen() int {
	total := 0
	for _, q := range s.queues {
		total += q.Len()
	}

	return total
}

func (s *Scheduler) enqueue(priority record.Priority, r request) {
	if int(priority) >= len(s.queues) {
		priority = record.PriorityLow
	}

	if !s.queues[priority].Enqueue(r) {
		s.schedulingError(r.name, "enqueue", ErrStopped)

		return
	}

	metrics.QueueDepth.WithLabelValues(priority.String()).Set(float64(s.queues[priority].Len()))
}

// Run starts the workers and the periodic scans and blocks until ctx is
// done. Queued requests are dropped on return.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "scan")

	s.mu.Lock()
	s.log = ctx
	s.mu.Unlock()

	var wg sync.WaitGroup

	for i := range s.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.work(logger.WithKV(ctx, "worker", i))
		}()
	}

	for _, name := range s.db.Names() {
		rec, ok := s.db.Get(name)
		if !ok {
			continue
		}

		schedule, err := ParseSchedule(rec.Spec().Scan)
		if err != nil {
			logger.ErrorKV(ctx, "Invalid scan schedule, record stays passive", "record", name, "error", err)

			continue
		}

		if schedule == nil {
			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			s.periodic(ctx, name, schedule)
		}()
	}

	logger.InfoKV(ctx, "Scheduler started", "workers", s.workers)

	<-ctx.Done()

	for _, q := range s.queues {
		q.Close()
	}

	wg.Wait()

	logger.Info(ctx, "Scheduler stopped")

	return nil
}

// work serves requests, highest priority first, until ctx is done.
func (s *Scheduler) work(ctx context.Context) {
	for {
		if r, priority, ok := s.next(); ok {
			metrics.QueueDepth.WithLabelValues(priority.String()).Set(float64(s.queues[priority].Len()))
			s.serve(ctx, r)

			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
	}
}

// next pops the oldest request of the highest non-empty priority.
func (s *Scheduler) next() (request, record.Priority, bool) {
	for priority := record.PriorityHigh; ; priority-- {
		if r, ok := s.queues[priority].TryDequeue(); ok {
			// Other workers may still find work.
			select {
			case s.signal <- struct{}{}:
			default:
			}

			return r, priority, true
		}

		if priority == record.PriorityLow {
			return request{}, record.PriorityLow, false
		}
	}
}

// serve runs one request under the record's scan lock.
func (s *Scheduler) serve(ctx context.Context, r request) {
	rec, ok := s.db.Get(r.name)
	if !ok {
		s.schedulingError(r.name, "serve", database.ErrRecordNotFound)

		return
	}

	switch r.kind {
	case requestProcess:
		rec.Lock()
		err := s.core.Process(ctx, rec)
		rec.Unlock()

		switch {
		case err == nil:
		case errors.Is(err, record.ErrBusy):
			logger.DebugKV(ctx, "Process request overran a pending cycle", "record", r.name)
		default:
			logger.ErrorKV(ctx, "Process request failed", "record", r.name, "error", err)
		}
	case requestComplete:
		s.complete(ctx, rec, r.token)
	}
}

// complete resumes a pending cycle if the completion is still current.
func (s *Scheduler) complete(ctx context.Context, rec *record.Record, token uint64) {
	rec.Lock()
	defer rec.Unlock()

	if !rec.Valid() {
		logger.DebugKV(ctx, "Completion for removed record dropped", "record", rec.Name())

		return
	}

	completionCtx, ok := s.db.Completion(rec.Name())
	if !ok || !completionCtx.Current(token) {
		s.schedulingError(rec.Name(), "complete", record.ErrNotPending)

		return
	}

	if err := s.core.Complete(ctx, rec); err != nil {
		logger.ErrorKV(ctx, "Completion failed", "record", rec.Name(), "error", err)
	}
}

func (s *Scheduler) schedulingError(name, op string, err error) {
	s.mu.RLock()
	ctx := s.log
	s.mu.RUnlock()

	metrics.SchedulingErrors.WithLabelValues(name).Inc()
	logger.ErrorKV(ctx, "Scheduling error", "record", name, "op", op, "error", err)
}
