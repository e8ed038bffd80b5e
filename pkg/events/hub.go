// Package events is a small in-process pub/sub hub for operational log
// events. The gateway streams it to clients as server-sent events; nothing
// in the turn pipeline depends on a subscriber being present or keeping up.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Level tags an event's severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelAlert Level = "alert"
	LevelError Level = "error"
)

// Event is one timestamped log line in the wire shape subscribers consume.
type Event struct {
	Type      Level     `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// JSON renders the event for an SSE data frame. Marshal of this shape
// cannot fail; an empty byte slice would only mean a broken runtime.
func (e Event) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte("{}")
	}
	return b
}

const subscriberBuffer = 32

// Hub fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its event channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// with a channel that was already removed.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish stamps and delivers an event to every subscriber that has buffer
// space, and mirrors it to the process log.
func (h *Hub) Publish(level Level, message string) {
	if level == LevelError {
		log.Printf("[EVENTS] ERROR %s", message)
	} else {
		log.Printf("[EVENTS] %s", message)
	}

	ev := Event{Type: level, Timestamp: time.Now().UTC(), Message: message}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Info publishes an informational event.
func (h *Hub) Info(message string) { h.Publish(LevelInfo, message) }

// Alert publishes an alert event.
func (h *Hub) Alert(message string) { h.Publish(LevelAlert, message) }

// Error publishes an error event.
func (h *Hub) Error(message string) { h.Publish(LevelError, message) }
