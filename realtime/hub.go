package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"questkit/core"
)

// Filter selects which events a subscriber receives. A nil Filter accepts all.
type Filter func(core.Event) bool

// ForUser accepts only events addressed to user.
func ForUser(user core.UserID) Filter {
	return func(ev core.Event) bool { return ev.UserID == user }
}

// OfTypes accepts only the listed event types.
func OfTypes(types ...core.EventType) Filter {
	set := make(map[core.EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(ev core.Event) bool {
		_, ok := set[ev.Type]
		return ok
	}
}

type subscriber struct {
	ch     chan core.Event
	filter Filter
}

// Hub fans quest events out to subscriber channels.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Int64
}

func NewHub() *Hub { return &Hub{subs: map[int]subscriber{}} }

func (h *Hub) Subscribe(buffer int, filter Filter) (int, <-chan core.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Event, buffer)
	h.subs[id] = subscriber{ch: ch, filter: filter}
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Broadcast delivers ev to every matching subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *Hub) Broadcast(_ context.Context, ev core.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// MarshalJSON is a helper to convert events to JSON bytes for WebSocket/SSE.
func MarshalJSON(ev core.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}
