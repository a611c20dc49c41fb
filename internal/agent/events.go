package agent

import (
	"sync"
	"time"
)

// Event types published during a turn.
const (
	EventIteration  = "iteration"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventFinal      = "final"
)

// Event is one loop observation, streamed over /v1/events.
type Event struct {
	Type    string         `json:"type"`
	Session string         `json:"session"`
	Data    map[string]any `json:"data,omitempty"`
	TS      time.Time      `json:"ts"`
}

// Hub fans events out to WebSocket subscribers. Slow subscribers lose
// events instead of stalling the loop.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener; call the returned func to detach.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers reports the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
