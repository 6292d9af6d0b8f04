package server

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/completion"
	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/record"
	repo "github.com/oshokin/procdb/internal/repository/state"
	"github.com/oshokin/procdb/internal/scan"
	"github.com/oshokin/procdb/internal/subscription"
)

// engine owns the record database and everything that drives it.
// It is unexported to keep the transport decoupled from the wiring.
type engine struct {
	// db holds the records.
	db *database.Database
	// hub fans monitor events out to subscribers.
	hub *subscription.Hub
	// scheduler serves process and completion requests.
	scheduler *scan.Scheduler
	// autosaver persists settable fields; nil when autosave is off.
	autosaver *repo.Autosaver

	// wg tracks the scheduler and autosave goroutines.
	wg sync.WaitGroup
}

// newEngine builds the database from defs, restores autosaved fields from
// repository (which may be nil) and returns an engine ready to start.
func newEngine(
	ctx context.Context,
	settings *config.Config,
	defs []database.Definition,
	repository repo.Repository,
	clk clock.WithDelayedExecution,
) (*engine, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}

	e := &engine{
		db:  database.New(database.WithLockTimeout(settings.LinkLockTimeout), database.WithClock(clk)),
		hub: subscription.NewHub(),
	}

	core := record.NewCore(
		record.WithLinkTarget(e.db),
		record.WithSink(e.hub),
		record.WithClock(clk),
	)
	e.scheduler = scan.New(e.db, core, scan.WithWorkers(settings.QueueWorkers), scan.WithClock(clk))
	core.SetScheduler(e.scheduler)

	bridge := completion.NewBridge(clk, e.scheduler)
	if err := e.db.Build(ctx, defs, core, bridge); err != nil {
		return nil, fmt.Errorf("build database: %w", err)
	}

	if repository == nil {
		return e, nil
	}

	schedule, err := scan.ParseSchedule(settings.AutosavePeriod)
	if err != nil {
		return nil, fmt.Errorf("autosave period: %w", err)
	}

	e.autosaver = repo.NewAutosaver(e.db, repository, schedule, clk)
	if err = e.autosaver.RestoreFrom(ctx); err != nil {
		return nil, fmt.Errorf("restore autosave: %w", err)
	}

	return e, nil
}

// start launches the scheduler and the autosave loop.
func (e *engine) start(ctx context.Context) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		_ = e.scheduler.Run(ctx)
	}()

	if e.autosaver == nil {
		return
	}

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		e.autosaver.Run(ctx)
	}()
}

// stop ends every subscription, waits for the goroutines started by start
// (ctx must already be done) and tears the records down.
func (e *engine) stop(ctx context.Context) {
	e.hub.Close()
	e.wg.Wait()
	e.db.Close()

	logger.Info(ctx, "Record engine stopped")
}
