package events

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default channel buffer size for subscribers.
const DefaultBufferSize = 100

// subscription is one subscriber channel and the event types it wants.
type subscription struct {
	ch    chan Event
	types []EventType // empty means every type

	dropped atomic.Uint64
	// stalled is set while the subscriber is full, so a stuck reader costs
	// one warning instead of one per event.
	stalled atomic.Bool
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Router fans events out from the connection, poller and throttle to the
// TUI, the watcher and the log sink. Emit never blocks: a subscriber whose
// channel is full misses the event.
type Router struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool

	bufferSize int
	logger     *slog.Logger
	dropped    atomic.Uint64
}

// NewRouter creates a router whose subscribers get bufferSize slots.
// If bufferSize is 0 or negative, DefaultBufferSize is used.
func NewRouter(bufferSize int, logger *slog.Logger) *Router {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{bufferSize: bufferSize, logger: logger}
}

// Emit delivers ev to every subscriber that wants its type.
// Safe to call concurrently and after Close, where it does nothing.
func (r *Router) Emit(ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	for _, sub := range r.subs {
		if !sub.wants(ev.Type()) {
			continue
		}
		select {
		case sub.ch <- ev:
			sub.stalled.Store(false)
		default:
			r.dropped.Add(1)
			n := sub.dropped.Add(1)
			if !sub.stalled.Swap(true) {
				r.logger.Warn("subscriber full, dropping events",
					"event_type", ev.Type(),
					"source", ev.Source(),
					"dropped_total", n,
				)
			}
		}
	}
}

// Dropped returns how many deliveries were skipped across all subscribers.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}

// Subscribe returns a channel of the router's default size receiving the
// given event types, or every event when none are given. The channel is
// closed by Unsubscribe or Close.
func (r *Router) Subscribe(types ...EventType) <-chan Event {
	return r.SubscribeBuffered(r.bufferSize, types...)
}

// SubscribeBuffered is Subscribe with an explicit buffer size.
func (r *Router) SubscribeBuffered(size int, types ...EventType) <-chan Event {
	sub := &subscription{ch: make(chan Event, size), types: slices.Clone(types)}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(sub.ch)
		return sub.ch
	}
	r.subs = append(r.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
// Unknown or already removed channels are ignored.
func (r *Router) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.subs, func(s *subscription) bool { return s.ch == ch })
	if i < 0 {
		return
	}
	close(r.subs[i].ch)
	r.subs = slices.Delete(r.subs, i, i+1)
}

// Close closes every subscriber channel. Later Emits do nothing and later
// subscriptions come back already closed. Close is idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		close(sub.ch)
	}
	r.subs = nil
}
