package subscription

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/oshokin/procdb/internal/domain/monitor"
	"github.com/oshokin/procdb/internal/metrics"
)

// DefaultBuffer is the queue size of a subscription when none is given.
const DefaultBuffer = 64

// ErrClosed means the hub no longer accepts subscribers.
var ErrClosed = errors.New("subscription hub closed")

// Filter selects the events a subscriber receives. Empty fields match all.
type Filter struct {
	Records []string
	// Kind, when non-zero, requires at least one of its bits in the event kind.
	Kind monitor.Kind
}

func (f Filter) match(event monitor.Event) bool {
	if len(f.Records) > 0 && !slices.Contains(f.Records, event.Record) {
		return false
	}

	return f.Kind == 0 || event.Kind&f.Kind != 0
}

// Subscription is one subscriber queue.
type Subscription struct {
	id      uuid.UUID
	filter  Filter
	events  chan monitor.Event
	dropped atomic.Uint64
}

// ID identifies the subscription within its hub.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Events returns the queue. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan monitor.Event {
	return s.events
}

// Dropped returns how many events did not fit in the queue.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is a record.Sink that copies events to every matching subscription.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*Subscription)}
}

// Subscribe registers a subscriber. buffer <= 0 selects DefaultBuffer.
func (h *Hub) Subscribe(filter Filter, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		id:     uuid.New(),
		filter: filter,
		events: make(chan monitor.Event, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	h.subs[sub.id] = sub

	return sub, nil
}

// Unsubscribe ends a subscription and closes its queue. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.events)
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Publish implements record.Sink.
func (h *Hub) Publish(event monitor.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.match(event) {
			continue
		}

		select {
		case sub.events <- event:
		default:
			sub.dropped.Add(1)
			metrics.EventsDropped.Inc()
		}
	}
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.events)
	}
}
