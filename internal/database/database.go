package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/completion"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/logger"
	"github.com/oshokin/procdb/internal/record"
)

const (
	// DefaultLockTimeout bounds how long a link fetch waits for a busy target.
	DefaultLockTimeout = 100 * time.Millisecond

	lockRetryInterval = time.Millisecond
)

var (
	// ErrRecordNotFound means no record carries the requested name.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateRecord means a record with the same name already exists.
	ErrDuplicateRecord = errors.New("duplicate record name")
	// ErrNotEnumerated means the record has no labeled states.
	ErrNotEnumerated = errors.New("record has no labeled states")
)

// Database is the set of records of one engine.
type Database struct {
	mu          sync.RWMutex
	records     map[string]*record.Record
	completions map[string]*completion.Context

	clock       clock.Clock
	lockTimeout time.Duration
}

// Option configures a Database.
type Option func(*Database)

// WithLockTimeout bounds the wait for a busy link target.
func WithLockTimeout(timeout time.Duration) Option {
	return func(db *Database) {
		if timeout > 0 {
			db.lockTimeout = timeout
		}
	}
}

// WithClock replaces the wall clock used while waiting for a busy target.
func WithClock(clk clock.Clock) Option {
	return func(db *Database) {
		if clk != nil {
			db.clock = clk
		}
	}
}

// New returns an empty database.
func New(opts ...Option) *Database {
	db := &Database{
		records:     make(map[string]*record.Record),
		completions: make(map[string]*completion.Context),
		clock:       clock.RealClock{},
		lockTimeout: DefaultLockTimeout,
	}

	for _, opt := range opts {
		opt(db)
	}

	return db
}

// Add inserts a record. ctx is the completion context of the record when it
// uses asynchronous device support, otherwise nil.
func (db *Database) Add(rec *record.Record, ctx *completion.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.records[rec.Name()]; ok {
		return fmt.Errorf("add %s: %w", rec.Name(), ErrDuplicateRecord)
	}

	db.records[rec.Name()] = rec

	if ctx != nil {
		db.completions[rec.Name()] = ctx
	}

	return nil
}

// Get returns the record called name.
func (db *Database) Get(name string) (*record.Record, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rec, ok := db.records[name]

	return rec, ok
}

// Completion returns the completion context of the record called name.
func (db *Database) Completion(name string) (*completion.Context, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ctx, ok := db.completions[name]

	return ctx, ok
}

// Names returns the sorted record names.
func (db *Database) Names() []string {
	db.mu.RLock()
	names := make([]string, 0, len(db.records))

	for name := range db.records {
		names = append(names, name)
	}
	db.mu.RUnlock()

	slices.Sort(names)

	return names
}

// Remove tears a record down under its scan lock and drops it. Any pending
// completion is cancelled, and one that already fired finds the record
// invalid.
func (db *Database) Remove(name string) error {
	db.mu.Lock()
	rec, ok := db.records[name]
	delete(db.records, name)
	delete(db.completions, name)
	db.mu.Unlock()

	if !ok {
		return fmt.Errorf("remove %s: %w", name, ErrRecordNotFound)
	}

	rec.Lock()
	rec.Teardown()
	rec.Unlock()

	return nil
}

// Close tears down every record.
func (db *Database) Close() {
	for _, name := range db.Names() {
		_ = db.Remove(name)
	}
}

// Fetch implements link.Target. A reference to the requester's own record
// reads without locking because the caller already holds the scan lock.
func (db *Database) Fetch(ctx context.Context, requester string, ref link.FieldRef) (float64, error) {
	rec, ok := db.Get(ref.Record)
	if !ok {
		return 0, fmt.Errorf("record %s: %w", ref.Record, link.ErrTargetNotFound)
	}

	if ref.Record != requester {
		if err := db.lockWithin(ctx, rec); err != nil {
			return 0, err
		}
		defer rec.Unlock()
	}

	if !rec.Valid() {
		return 0, fmt.Errorf("record %s: %w", ref.Record, link.ErrTargetNotFound)
	}

	value, err := rec.Field(ref.Field)
	if err != nil {
		if errors.Is(err, record.ErrUnknownField) {
			return 0, fmt.Errorf("%w: %w", link.ErrTargetNotFound, err)
		}

		return 0, err
	}

	return value, nil
}

// lockWithin acquires the scan lock of rec or gives up after the lock timeout.
func (db *Database) lockWithin(ctx context.Context, rec *record.Record) error {
	if rec.TryLock() {
		return nil
	}

	deadline := db.clock.Now().Add(db.lockTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-db.clock.After(lockRetryInterval):
		}

		if rec.TryLock() {
			return nil
		}

		if !db.clock.Now().Before(deadline) {
			logger.DebugKV(ctx, "Link target stayed locked", "record", rec.Name(), "timeout", db.lockTimeout)

			return fmt.Errorf("record %s: %w", rec.Name(), link.ErrLockUnavailable)
		}
	}
}

// withRecord runs fn under the scan lock of the record called name.
func (db *Database) withRecord(name string, fn func(rec *record.Record) error) error {
	rec, ok := db.Get(name)
	if !ok {
		return fmt.Errorf("record %s: %w", name, ErrRecordNotFound)
	}

	rec.Lock()
	defer rec.Unlock()

	if !rec.Valid() {
		return fmt.Errorf("record %s: %w", name, ErrRecordNotFound)
	}

	return fn(rec)
}

// GetField reads one field of a record under its scan lock.
func (db *Database) GetField(name, field string) (float64, error) {
	var value float64

	err := db.withRecord(name, func(rec *record.Record) error {
		var err error

		value, err = rec.Field(field)

		return err
	})

	return value, err
}

// PutField writes one field of a record under its scan lock.
func (db *Database) PutField(name, field string, value float64) error {
	return db.withRecord(name, func(rec *record.Record) error {
		return rec.PutField(field, value)
	})
}

// Snapshot is a consistent view of a record's output.
type Snapshot struct {
	Name      string
	Kind      record.Kind
	Value     float64
	Label     string
	HasLabel  bool
	Units     string
	Status    string
	Severity  string
	Undefined bool
	Active    bool
	Timestamp time.Time
}

// Snapshot reads the output of a record under its scan lock.
func (db *Database) Snapshot(name string) (Snapshot, error) {
	var snap Snapshot

	err := db.withRecord(name, func(rec *record.Record) error {
		value, err := rec.Field("VAL")
		if err != nil {
			return err
		}

		current := rec.Alarm()
		snap = Snapshot{
			Name:      rec.Name(),
			Kind:      rec.Spec().Kind,
			Value:     value,
			Status:    current.Status.String(),
			Severity:  current.Severity.String(),
			Undefined: rec.Undefined(),
			Active:    rec.Active(),
			Timestamp: rec.Timestamp(),
		}

		if labeler, ok := rec.EnumLabeler(); ok {
			snap.Label = labeler.EnumLabel()
			snap.HasLabel = true
		}

		if units, ok := rec.Variant().(interface{ Units() string }); ok {
			snap.Units = units.Units()
		}

		return nil
	})

	return snap, err
}

// EnumLabel returns the label of the current state of a record.
func (db *Database) EnumLabel(name string) (string, error) {
	var label string

	err := db.withRecord(name, func(rec *record.Record) error {
		labeler, ok := rec.EnumLabeler()
		if !ok {
			return fmt.Errorf("record %s: %w", name, ErrNotEnumerated)
		}

		label = labeler.EnumLabel()

		return nil
	})

	return label, err
}

// EnumLabels returns every configured label of a record.
func (db *Database) EnumLabels(name string) ([]string, error) {
	var labels []string

	err := db.withRecord(name, func(rec *record.Record) error {
		labeler, ok := rec.EnumLabeler()
		if !ok {
			return fmt.Errorf("record %s: %w", name, ErrNotEnumerated)
		}

		labels = labeler.EnumLabels()

		return nil
	})

	return labels, err
}

// PutEnumLabel sets a record to the state carrying label.
func (db *Database) PutEnumLabel(name, label string) error {
	return db.withRecord(name, func(rec *record.Record) error {
		labeler, ok := rec.EnumLabeler()
		if !ok {
			return fmt.Errorf("record %s: %w", name, ErrNotEnumerated)
		}

		return labeler.PutEnumLabel(label)
	})
}
