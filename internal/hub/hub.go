// Package hub fans out state-change notifications to registered consumers
// (strategy, dashboard) with per-subscriber failure isolation.
package hub

import (
	"log/slog"
	"sync"
)

// Callback receives one notification. Payloads are snapshots; consumers
// must not reach back into engine state through them.
type Callback func(updateType string, payload any)

// Subscription is the token handed out by Subscribe. Its lifetime is the
// consumer's: unsubscribe when the consumer goes away.
type Subscription struct {
	id uint64
}

type entry struct {
	id uint64
	fn Callback
}

// Hub invokes subscribers sequentially in registration order. Delivery is
// at-least-once and ordered relative to a single producer; producers on
// different goroutines have no cross-ordering guarantee.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs []entry
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{}
}

// Subscribe registers a callback and returns its subscription token.
func (h *Hub) Subscribe(fn Callback) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.subs = append(h.subs, entry{id: h.next, fn: fn})
	return &Subscription{id: h.next}
}

// Unsubscribe removes a previously registered callback. Unknown or nil
// tokens are ignored.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.subs {
		if e.id == s.id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers one notification to every subscriber. A panicking
// subscriber is caught and logged; delivery continues to the rest.
func (h *Hub) Notify(updateType string, payload any) {
	h.mu.RLock()
	subs := append([]entry(nil), h.subs...)
	h.mu.RUnlock()

	for _, e := range subs {
		deliver(e.fn, updateType, payload)
	}
}

func deliver(fn Callback, updateType string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hub: subscriber panicked", "update_type", updateType, "panic", r)
		}
	}()
	fn(updateType, payload)
}
