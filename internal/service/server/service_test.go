package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/oshokin/procdb/internal/config"
	"github.com/oshokin/procdb/internal/database"
	repo "github.com/oshokin/procdb/internal/repository/state"
)

var errTestLoad = errors.New("test load error")

const testRecords = `
records:
  - name: boiler:temp
    type: selector
    selm: max
    inputs: [90, 85]
    limits: {high: 80, hsv: MAJOR}
`

// memoryRepository is a minimal in-memory Repository implementation for tests.
type memoryRepository struct {
	// mu guards saved.
	mu sync.Mutex
	// snapshot is returned from Load operations.
	snapshot *repo.Snapshot
	// loadErr is the error to return from Load operations.
	loadErr error
	// saved stores the last snapshot passed to Save operations.
	saved *repo.Snapshot
}

// Load returns the configured snapshot or error.
func (m *memoryRepository) Load(context.Context) (*repo.Snapshot, error) {
	return m.snapshot, m.loadErr
}

// Save stores the provided snapshot in memory.
func (m *memoryRepository) Save(_ context.Context, s *repo.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = s

	return nil
}

func (m *memoryRepository) lastSaved() *repo.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saved
}

func testSettings(t *testing.T) *config.Config {
	t.Helper()

	settings := &config.Config{ServerAddress: "127.0.0.1:0", AutosavePeriod: "@every 1m"}
	require.NoError(t, config.Validate(settings))

	return settings
}

func testDefinitions(t *testing.T) []database.Definition {
	t.Helper()

	defs, err := database.Parse([]byte(testRecords))
	require.NoError(t, err)

	return defs
}

// TestNewEngine_RestoresOrDefaults asserts newEngine behavior on existing, missing, and failing autosaves.
func TestNewEngine_RestoresOrDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	settings := testSettings(t)

	// Existing snapshot.
	saved := &repo.Snapshot{Records: map[string]map[string]float64{"boiler:temp": {"HIGH": 95}}}

	e, err := newEngine(ctx, settings, testDefinitions(t), &memoryRepository{snapshot: saved}, nil)
	require.NoError(t, err)

	high, err := e.db.GetField("boiler:temp", "HIGH")
	require.NoError(t, err)
	require.InDelta(t, 95.0, high, 0)
	e.db.Close()

	// Not found -> definitions.
	e, err = newEngine(ctx, settings, testDefinitions(t), &memoryRepository{loadErr: repo.ErrNotFound}, nil)
	require.NoError(t, err)

	high, err = e.db.GetField("boiler:temp", "HIGH")
	require.NoError(t, err)
	require.InDelta(t, 80.0, high, 0)
	e.db.Close()

	// Other error.
	e, err = newEngine(ctx, settings, testDefinitions(t), &memoryRepository{loadErr: errTestLoad}, nil)
	require.ErrorIs(t, err, errTestLoad)
	require.Nil(t, e)

	// Autosave disabled.
	e, err = newEngine(ctx, settings, testDefinitions(t), nil, nil)
	require.NoError(t, err)
	require.Nil(t, e.autosaver)
	e.db.Close()
}

// TestEngine_StartStop scans, saves on schedule and saves once more on stop.
func TestEngine_StartStop(t *testing.T) {
	t.Parallel()

	clk := clocktesting.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	memory := &memoryRepository{loadErr: repo.ErrNotFound}

	e, err := newEngine(context.Background(), testSettings(t), testDefinitions(t), memory, clk)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	e.start(ctx)

	require.NoError(t, e.scheduler.ProcessNow(ctx, "boiler:temp"))

	snap, err := e.db.Snapshot("boiler:temp")
	require.NoError(t, err)
	require.InDelta(t, 90.0, snap.Value, 0)
	require.Equal(t, "MAJOR", snap.Severity)
	require.Equal(t, clk.Now(), snap.Timestamp)

	require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
	clk.Step(time.Minute)
	require.Eventually(t, func() bool { return memory.lastSaved() != nil }, 5*time.Second, time.Millisecond)

	cancel()
	e.stop(ctx)
	require.InDelta(t, 80.0, memory.lastSaved().Records["boiler:temp"]["HIGH"], 0)
}

// TestResolveListenAddress covers override, port extraction and errors.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	addr, err := resolveListenAddress("plant.local:7000", "")
	require.NoError(t, err)
	require.Equal(t, ":7000", addr)

	addr, err = resolveListenAddress("plant.local:7000", "127.0.0.1:9000")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", addr)

	_, err = resolveListenAddress("", "")
	require.ErrorIs(t, err, ErrNoServerAddress)

	_, err = resolveListenAddress("no-port", "")
	require.Error(t, err)
}
