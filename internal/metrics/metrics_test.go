package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestCollectorsRegistered exposes every collector under its documented name.
func TestCollectorsRegistered(t *testing.T) {
	t.Parallel()

	ProcessCycles.WithLabelValues("metrics:test", "done").Inc()
	AlarmSeverity.WithLabelValues("metrics:test").Set(2)

	require.InDelta(t, 1.0, testutil.ToFloat64(ProcessCycles.WithLabelValues("metrics:test", "done")), 0)
	require.InDelta(t, 2.0, testutil.ToFloat64(AlarmSeverity.WithLabelValues("metrics:test")), 0)

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "procdb_process_cycles_total")
	require.NoError(t, err)
	require.Positive(t, count)

	require.Positive(t, testutil.CollectAndCount(ProcessCycles, "procdb_process_cycles_total"))
}
