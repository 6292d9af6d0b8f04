package completion

import (
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/oshokin/procdb/internal/record"
)

var (
	// ErrAlreadyPending means a completion is already armed for the record.
	ErrAlreadyPending = errors.New("completion already pending")
	// ErrReleased means the context was released at teardown.
	ErrReleased = errors.New("completion context released")
)

// Reentry receives expired completions. Implementations must return
// quickly and must not block on the record's scan lock.
type Reentry interface {
	CompleteProcess(name string, priority record.Priority, token uint64)
}

// ReentryFunc adapts a function to Reentry.
type ReentryFunc func(name string, priority record.Priority, token uint64)

// CompleteProcess calls f.
func (f ReentryFunc) CompleteProcess(name string, priority record.Priority, token uint64) {
	f(name, priority, token)
}

// Bridge creates completion contexts sharing one clock and one re-entry target.
type Bridge struct {
	clock   clock.WithDelayedExecution
	reentry Reentry
}

// NewBridge returns a bridge. A nil clock uses the wall clock.
func NewBridge(clk clock.WithDelayedExecution, reentry Reentry) *Bridge {
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Bridge{
		clock:   clk,
		reentry: reentry,
	}
}

// NewContext returns the completion context of one record.
func (b *Bridge) NewContext(name string, priority record.Priority) *Context {
	return &Context{
		bridge:   b,
		record:   name,
		priority: priority,
	}
}

// Context is the cancellable completion timer of one record.
type Context struct {
	bridge *Bridge
	record string

	mu       sync.Mutex
	priority record.Priority
	timer    clock.Timer
	pending  bool
	fired    bool
	released bool
	// token identifies the armed timer; stale callbacks carry an older one.
	token uint64
}

// Record returns the name of the owning record.
func (c *Context) Record() string {
	return c.record
}

// Schedule arms a completion after delay. A non-positive delay arms
// nothing and reports false, which tells device support to finish the
// read synchronously.
func (c *Context) Schedule(delay time.Duration) (bool, error) {
	if delay <= 0 {
		return false, nil
	}

	c.mu.Lock()

	if c.released {
		c.mu.Unlock()

		return false, &record.SchedulingError{Record: c.record, Op: "schedule completion", Err: ErrReleased}
	}

	if c.pending {
		c.mu.Unlock()

		return false, &record.SchedulingError{Record: c.record, Op: "schedule completion", Err: ErrAlreadyPending}
	}

	c.token++
	c.pending = true
	c.fired = false
	token := c.token
	c.mu.Unlock()

	// The clock is called without c.mu held: fake clocks run callbacks
	// under their own lock, and fire takes c.mu.
	timer := c.bridge.clock.AfterFunc(delay, func() {
		c.fire(token)
	})

	c.mu.Lock()
	if c.token == token && !c.released {
		c.timer = timer
		c.mu.Unlock()

		return true, nil
	}
	c.mu.Unlock()

	timer.Stop()

	return true, nil
}

// fire delivers an expired timer to the re-entry target unless the timer
// was superseded or the context released.
func (c *Context) fire(token uint64) {
	c.mu.Lock()

	if c.released || !c.pending || c.fired || c.token != token {
		c.mu.Unlock()

		return
	}

	c.fired = true
	c.timer = nil
	priority := c.priority
	c.mu.Unlock()

	if c.bridge.reentry != nil {
		c.bridge.reentry.CompleteProcess(c.record, priority, token)
	}
}

// Current reports whether token still names the armed completion. The
// scheduler checks it under the scan lock before resuming the cycle.
func (c *Context) Current(token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.released && c.pending && c.token == token
}

// Consume clears the pending completion when the cycle resumes. It reports
// whether a completion was pending.
func (c *Context) Consume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasPending := c.pending
	c.pending = false
	c.fired = false

	return wasPending
}

// Pending reports whether a completion is armed or waiting to be consumed.
func (c *Context) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}

// Priority returns the queue used for re-entry.
func (c *Context) Priority() record.Priority {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.priority
}

// SetPriority changes the queue used for re-entry.
func (c *Context) SetPriority(priority record.Priority) {
	c.mu.Lock()
	c.priority = priority
	c.mu.Unlock()
}

// Release cancels any armed timer and invalidates every outstanding
// token. Release is idempotent.
func (c *Context) Release() {
	c.mu.Lock()

	if c.released {
		c.mu.Unlock()

		return
	}

	c.released = true
	c.pending = false
	c.token++
	timer := c.timer
	c.timer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}
