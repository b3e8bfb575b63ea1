package notifications

import (
	"context"
	"sync"
	"sync/atomic"

	"fetch/internal/observability"
)

// DefaultSubscriberBuffer is the per-subscription queue length.
const DefaultSubscriberBuffer = 64

type subscription struct {
	ch     chan Event
	lagged atomic.Bool
}

// Hub maps account id -> live subscriptions and delivers events to them
// without ever blocking the publisher. The mutex guards only the map.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events for userID. The channel is closed
// when ctx ends or the hub shuts down.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Event {
	sub := &subscription{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	m, ok := h.subs[userID]
	if !ok {
		m = make(map[*subscription]struct{})
		h.subs[userID] = m
	}
	m[sub] = struct{}{}
	h.mu.Unlock()
	observability.HubSubscribers.Inc()

	go func() {
		<-ctx.Done()
		h.unsubscribe(userID, sub)
	}()

	return sub.ch
}

func (h *Hub) unsubscribe(userID string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.subs[userID]
	if !ok {
		return
	}
	if _, exists := m[sub]; !exists {
		return
	}
	delete(m, sub)
	if len(m) == 0 {
		delete(h.subs, userID)
	}
	close(sub.ch)
	observability.HubSubscribers.Dec()
}

// Deliver hands ev to every subscription of ev.UserID. A subscription whose
// buffer is full loses the event and is sent a resync marker as soon as it
// has room again.
func (h *Hub) Deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.UserID] {
		if sub.lagged.Load() {
			select {
			case sub.ch <- Event{Type: EventResync, UserID: ev.UserID, At: ev.At}:
				sub.lagged.Store(false)
			default:
				observability.HubDrops.WithLabelValues(string(ev.Type)).Inc()
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
			sub.lagged.Store(true)
			observability.HubDrops.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

// SubscriberCount reports the live subscriptions for userID.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Shutdown closes every subscription. Later Subscribe calls get a closed channel.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for userID, m := range h.subs {
		for sub := range m {
			close(sub.ch)
			observability.HubSubscribers.Dec()
		}
		delete(h.subs, userID)
	}
	return nil
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "change event hub" }
