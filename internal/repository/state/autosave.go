package state

import (
	"context"
	"errors"
	"maps"
	"math"
	"slices"

	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/database"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/record"
)

// Capture reads the settable fields of every record in db. Non-finite
// values are skipped because JSON cannot carry them.
func Capture(db *database.Database, now clock.PassiveClock) *Snapshot {
	snapshot := &Snapshot{
		SavedAt: now.Now(),
		Records: make(map[string]map[string]float64),
	}

	for _, name := range db.Names() {
		rec, ok := db.Get(name)
		if !ok {
			continue
		}

		if values := captureRecord(rec); len(values) > 0 {
			snapshot.Records[name] = values
		}
	}

	return snapshot
}

func captureRecord(rec *record.Record) map[string]float64 {
	rec.Lock()
	defer rec.Unlock()

	if !rec.Valid() {
		return nil
	}

	persistent, ok := rec.Variant().(record.Persistent)
	if !ok {
		return nil
	}

	values := make(map[string]float64)

	for _, field := range persistent.Settable() {
		value, err := rec.Field(field)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		values[field] = value
	}

	return values
}

// Restore writes a snapshot back into db and returns the number of fields
// restored. Unknown records and rejected values are logged and skipped.
func Restore(ctx context.Context, db *database.Database, snapshot *Snapshot) int {
	restored := 0

	for _, name := range slices.Sorted(maps.Keys(snapshot.Records)) {
		values := snapshot.Records[name]

		for _, field := range slices.Sorted(maps.Keys(values)) {
			if err := db.PutField(name, field, values[field]); err != nil {
				logger.WarnKV(ctx, "Autosaved field skipped", "record", name, "field", field, "error", err)

				continue
			}

			restored++
		}
	}

	return restored
}

// Autosaver captures and saves the database on a schedule.
type Autosaver struct {
	db       *database.Database
	repo     Repository
	schedule cron.Schedule
	clock    clock.Clock
}

// NewAutosaver returns an Autosaver. A nil clock selects the wall clock.
func NewAutosaver(db *database.Database, repo Repository, schedule cron.Schedule, clk clock.Clock) *Autosaver {
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Autosaver{db: db, repo: repo, schedule: schedule, clock: clk}
}

// RestoreFrom loads the saved snapshot, if any, into the database.
func (a *Autosaver) RestoreFrom(ctx context.Context) error {
	snapshot, err := a.repo.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		logger.Info(ctx, "No autosave file yet, starting from definitions")

		return nil
	}

	if err != nil {
		return err
	}

	restored := Restore(ctx, a.db, snapshot)
	logger.InfoKV(ctx, "Autosave restored", "fields", restored, "saved_at", snapshot.SavedAt)

	return nil
}

// SaveNow captures and stores the current settable fields.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	return a.repo.Save(ctx, Capture(a.db, a.clock))
}

// Run saves on every tick of the schedule until ctx is done, then saves
// once more.
func (a *Autosaver) Run(ctx context.Context) {
	ctx = logger.WithName(ctx, "autosave")

	for {
		now := a.clock.Now()
		timer := a.clock.NewTimer(a.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()

			if err := a.SaveNow(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorKV(ctx, "Final autosave failed", "error", err)
			}

			return
		case <-timer.C():
		}

		if err := a.SaveNow(ctx); err != nil {
			logger.ErrorKV(ctx, "Autosave failed", "error", err)

			continue
		}

		logger.Debug(ctx, "Autosave written")
	}
}
