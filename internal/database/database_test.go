package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/procdb/internal/completion"
	"github.com/oshokin/procdb/internal/link"
	"github.com/oshokin/procdb/internal/record"
)

const testDefinitions = `
records:
  - name: valve:raw
    type: decode
    inp: 2
    flnk: valve:pick
  - name: valve:state
    type: mbbi
    desc: Valve position
    inp: valve:raw
    priority: high
    nobt: 4
    unsv: MINOR
    cosv: MINOR
    states:
      - {value: 1, label: Closed}
      - {value: 2, label: Open}
      - {value: 3, label: Moving, severity: MAJOR}
  - name: valve:pick
    type: selector
    scan: "@every 1s"
    selm: max
    inputs: ["valve:state", 0.5]
    mdel: 0.1
    egu: pos
  - name: valve:slow
    type: decode
    device: async_soft
    delay: 250ms
    inp: 1
`

func buildTestDatabase(t *testing.T, opts ...Option) (*Database, *record.Core) {
	t.Helper()

	defs, err := Parse([]byte(testDefinitions))
	require.NoError(t, err)

	db := New(opts...)
	core := record.NewCore(record.WithLinkTarget(db))
	bridge := completion.NewBridge(nil, nil)

	require.NoError(t, db.Build(context.Background(), defs, core, bridge))
	t.Cleanup(db.Close)

	return db, core
}

func process(t *testing.T, db *Database, core *record.Core, name string) {
	t.Helper()

	rec, ok := db.Get(name)
	require.True(t, ok)

	rec.Lock()
	defer rec.Unlock()

	require.NoError(t, core.Process(context.Background(), rec))
}

// TestParse decodes every definition field used by the loader.
func TestParse(t *testing.T) {
	t.Parallel()

	defs, err := Parse([]byte(testDefinitions))
	require.NoError(t, err)
	require.Len(t, defs, 4)

	state := defs[1]
	require.Equal(t, "Valve position", state.Description)
	require.Equal(t, "high", state.Priority)
	require.Equal(t, uint8(4), state.Decode.Bits)
	require.Len(t, state.Decode.States, 3)
	require.Equal(t, "Moving", state.Decode.States[2].Label)
	require.True(t, state.Input.IsReference())

	pick := defs[2]
	require.Equal(t, "max", pick.SelectionMode)
	require.Len(t, pick.Selector.Inputs, 2)
	require.InDelta(t, 0.1, pick.Selector.Value, 1e-9)
	require.Equal(t, "pos", pick.Selector.Units)

	require.Equal(t, 250*time.Millisecond, defs[3].Delay)
}

// TestParse_Rejects covers duplicate names, unknown types and dangling forward links.
func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("records: [{name: a, type: decode}, {name: a, type: decode}]"))
	require.ErrorIs(t, err, ErrDuplicateRecord)

	_, err = Parse([]byte("records: [{name: a, type: ai}]"))
	require.Error(t, err)

	_, err = Parse([]byte("records: [{name: a, type: decode, flnk: b}]"))
	require.Error(t, err)

	_, err = Parse([]byte("records: [{name: ' ', type: decode}]"))
	require.Error(t, err)
}

// TestLoadFile reads definitions from disk.
func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "records.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDefinitions), 0o600))

	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// TestBuild_LinksBetweenRecords processes a chain that reads through reference links.
func TestBuild_LinksBetweenRecords(t *testing.T) {
	t.Parallel()

	db, core := buildTestDatabase(t)

	require.Equal(t, []string{"valve:pick", "valve:raw", "valve:slow", "valve:state"}, db.Names())

	process(t, db, core, "valve:raw")
	process(t, db, core, "valve:state")

	label, err := db.EnumLabel("valve:state")
	require.NoError(t, err)
	require.Equal(t, "Open", label)

	process(t, db, core, "valve:pick")

	value, err := db.GetField("valve:pick", "VAL")
	require.NoError(t, err)
	require.InDelta(t, 1.0, value, 0)

	snap, err := db.Snapshot("valve:state")
	require.NoError(t, err)
	require.True(t, snap.HasLabel)
	// The first move away from state zero raises the change-of-state alarm.
	require.Equal(t, "MINOR", snap.Severity)

	_, ok := db.Completion("valve:slow")
	require.True(t, ok)

	_, ok = db.Completion("valve:state")
	require.False(t, ok)
}

// TestFetch_LockTimeout reports a busy target as an unavailable link.
func TestFetch_LockTimeout(t *testing.T) {
	t.Parallel()

	db, _ := buildTestDatabase(t, WithLockTimeout(5*time.Millisecond))

	rec, ok := db.Get("valve:raw")
	require.True(t, ok)

	rec.Lock()
	defer rec.Unlock()

	_, err := db.Fetch(context.Background(), "valve:state", link.FieldRef{Record: "valve:raw", Field: "VAL"})
	require.ErrorIs(t, err, link.ErrLockUnavailable)

	// The owner of the lock reads its own fields.
	_, err = db.Fetch(context.Background(), "valve:raw", link.FieldRef{Record: "valve:raw", Field: "VAL"})
	require.NoError(t, err)
}

// TestFetch_Missing maps unknown records and fields to not found.
func TestFetch_Missing(t *testing.T) {
	t.Parallel()

	db, _ := buildTestDatabase(t)
	ctx := context.Background()

	_, err := db.Fetch(ctx, "x", link.FieldRef{Record: "ghost", Field: "VAL"})
	require.ErrorIs(t, err, link.ErrTargetNotFound)

	_, err = db.Fetch(ctx, "x", link.FieldRef{Record: "valve:raw", Field: "NOPE"})
	require.ErrorIs(t, err, link.ErrTargetNotFound)
}

// TestEnumLabels lists, sets and rejects labels.
func TestEnumLabels(t *testing.T) {
	t.Parallel()

	db, _ := buildTestDatabase(t)

	labels, err := db.EnumLabels("valve:state")
	require.NoError(t, err)
	require.Equal(t, []string{"Closed", "Open", "Moving"}, labels)

	require.NoError(t, db.PutEnumLabel("valve:state", "Moving"))

	value, err := db.GetField("valve:state", "VAL")
	require.NoError(t, err)
	require.InDelta(t, 2.0, value, 0)

	require.ErrorIs(t, db.PutEnumLabel("valve:state", "Stuck"), record.ErrBadChoice)
	require.ErrorIs(t, db.PutEnumLabel("valve:pick", "Open"), ErrNotEnumerated)
	require.ErrorIs(t, db.PutEnumLabel("ghost", "Open"), ErrRecordNotFound)
}

// TestRemove tears the record down and drops it.
func TestRemove(t *testing.T) {
	t.Parallel()

	db, core := buildTestDatabase(t)

	rec, ok := db.Get("valve:slow")
	require.True(t, ok)

	require.NoError(t, db.Remove("valve:slow"))
	require.False(t, rec.Valid())
	require.ErrorIs(t, core.Process(context.Background(), rec), record.ErrScheduling)
	require.ErrorIs(t, db.Remove("valve:slow"), ErrRecordNotFound)

	_, err := db.GetField("valve:slow", "VAL")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

// TestBuild_UnprocessableRecordKept keeps a record whose variant was rejected.
func TestBuild_UnprocessableRecordKept(t *testing.T) {
	t.Parallel()

	defs, err := Parse([]byte("records: [{name: bad, type: decode, device: gpib}]"))
	require.NoError(t, err)

	db := New()
	core := record.NewCore(record.WithLinkTarget(db))
	require.NoError(t, db.Build(context.Background(), defs, core, nil))

	rec, ok := db.Get("bad")
	require.True(t, ok)
	require.ErrorIs(t, rec.ConfigError(), record.ErrConfiguration)
	require.ErrorIs(t, core.Process(context.Background(), rec), record.ErrConfiguration)
}

// TestBuild_BadNamesRejectOnlyTheirRecord keeps loading when one record has an
// unknown selection mode or priority.
func TestBuild_BadNamesRejectOnlyTheirRecord(t *testing.T) {
	t.Parallel()

	defs, err := Parse([]byte(`
records:
  - {name: good, type: selector, selm: max, inputs: [4, 7], priority: high}
  - {name: bad, type: selector, selm: bogus, inputs: [1]}
  - {name: late, type: decode, inp: 1, priority: urgent}
`))
	require.NoError(t, err)
	require.Len(t, defs, 3)

	db := New()
	core := record.NewCore(record.WithLinkTarget(db))
	require.NoError(t, db.Build(context.Background(), defs, core, nil))
	t.Cleanup(db.Close)

	process(t, db, core, "good")

	value, err := db.GetField("good", "VAL")
	require.NoError(t, err)
	require.InDelta(t, 7.0, value, 0)

	good, ok := db.Get("good")
	require.True(t, ok)
	require.Equal(t, record.PriorityHigh, good.Spec().Priority)

	for _, name := range []string{"bad", "late"} {
		rec, ok := db.Get(name)
		require.True(t, ok)
		require.ErrorIs(t, rec.ConfigError(), record.ErrConfiguration)
		require.ErrorIs(t, core.Process(context.Background(), rec), record.ErrConfiguration)
	}
}
