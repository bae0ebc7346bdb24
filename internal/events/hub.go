package events

import (
	"sync"

	"github.com/google/uuid"
)

// Hub is an in-process Publisher that fans events out to per-match
// subscriber channels, feeding internal/wsapi. It never blocks a publisher on
// a slow subscriber: a subscriber whose channel is full simply misses that
// event, consistent with the at-least-once/best-effort contract of spec
// §4.6 (a reconnecting client should re-fetch current state via GET).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // matchID -> subscriberID -> channel
	global      map[string]chan Event             // subscriberID -> channel, receives every event
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: map[string]map[string]chan Event{},
		global:      map[string]chan Event{},
	}
}

// Subscribe registers a buffered channel for events scoped to matchID and
// returns an unsubscribe function. Buffer size matches the teacher's
// WS fan-out pattern of a small bounded mailbox per connection.
func (h *Hub) Subscribe(matchID string) (id string, ch <-chan Event, unsubscribe func()) {
	subID := uuid.NewString()
	c := make(chan Event, 16)

	h.mu.Lock()
	if _, ok := h.subscribers[matchID]; !ok {
		h.subscribers[matchID] = map[string]chan Event{}
	}
	h.subscribers[matchID][subID] = c
	h.mu.Unlock()

	return subID, c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.subscribers[matchID]; ok {
			delete(m, subID)
			if len(m) == 0 {
				delete(h.subscribers, matchID)
			}
		}
		close(c)
	}
}

// SubscribeAll registers a channel receiving every published event,
// regardless of match, used by operational consumers (metrics, audit log
// tailing).
func (h *Hub) SubscribeAll() (id string, ch <-chan Event, unsubscribe func()) {
	subID := uuid.NewString()
	c := make(chan Event, 64)

	h.mu.Lock()
	h.global[subID] = c
	h.mu.Unlock()

	return subID, c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if ch, ok := h.global[subID]; ok {
			delete(h.global, subID)
			close(ch)
		}
	}
}

// Publish implements Publisher. It never blocks: full subscriber channels
// drop the event rather than stall the caller's request path.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if event.MatchID != "" {
		for _, c := range h.subscribers[event.MatchID] {
			select {
			case c <- event:
			default:
			}
		}
	}
	for _, c := range h.global {
		select {
		case c <- event:
		default:
		}
	}
}
