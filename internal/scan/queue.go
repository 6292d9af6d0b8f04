package scan

import "sync"

type requestKind uint8

const (
	requestProcess requestKind = iota + 1
	requestComplete
)

// request is one unit of work for a worker.
type request struct {
	kind  requestKind
	name  string
	token uint64
}

// requestQueue is an unbounded FIFO. Forward-link cascades enqueue from
// inside workers, so Enqueue never blocks.
type requestQueue struct {
	mu       sync.Mutex
	requests []request
	closed   bool
	// signal is shared by all queues of a scheduler and coalesces wakeups.
	signal chan struct{}
}

func newRequestQueue(signal chan struct{}) *requestQueue {
	return &requestQueue{
		requests: make([]request, 0, 16),
		signal:   signal,
	}
}

// Enqueue appends r and reports false once the queue is closed.
func (q *requestQueue) Enqueue(r request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.requests = append(q.requests, r)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue pops the oldest request without blocking.
func (q *requestQueue) TryDequeue() (request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return request{}, false
	}

	r := q.requests[0]
	q.requests[0] = request{}

	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}

	return r, true
}

// Len returns the number of queued requests.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.requests)
}

// Close rejects further requests. Queued requests are dropped.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.requests = nil
}
