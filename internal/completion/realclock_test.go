package completion

import (
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/procdb/internal/record"
)

// TestBridge_RealClock fires once on the wall clock and not after release.
func TestBridge_RealClock(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var fired atomic.Int32

		bridge := NewBridge(nil, ReentryFunc(func(string, record.Priority, uint64) {
			fired.Add(1)
		}))

		ctx := bridge.NewContext("oven:temp", record.PriorityMedium)

		armed, err := ctx.Schedule(time.Second)
		require.NoError(t, err)
		require.True(t, armed)

		time.Sleep(999 * time.Millisecond)
		synctest.Wait()
		require.Zero(t, fired.Load())

		time.Sleep(time.Millisecond)
		synctest.Wait()
		require.Equal(t, int32(1), fired.Load())

		require.True(t, ctx.Consume())

		// A released context never fires again.
		armed, err = ctx.Schedule(time.Second)
		require.NoError(t, err)
		require.True(t, armed)

		ctx.Release()
		time.Sleep(2 * time.Second)
		synctest.Wait()
		require.Equal(t, int32(1), fired.Load())
	})
}
