// Package events fans audit writes out to live subscribers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the replay buffer size used when none is given.
const DefaultCapacity = 256

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind misses events but can replay from the history.
const subscriberBuffer = 64

// Event is one published notification. IDs increase by one per Publish.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

type subscriber struct {
	ch chan Event
}

// Hub keeps the last N events for replay and delivers new ones to every
// subscriber. Publish never waits on a subscriber.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	history []Event
	head    int // index of the oldest event once history is full
	subs    map[*subscriber]struct{}

	dropped atomic.Int64
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		history: make([]Event, 0, capacity),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish marshals data, records the event and offers it to subscribers.
// Data that cannot be marshalled is published as an empty object.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.remember(ev)

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SnapshotSince returns remembered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.history)
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		if ev := h.history[(h.head+i)%n]; ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts deliveries skipped because a subscriber's channel was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) remember(ev Event) {
	if len(h.history) < cap(h.history) {
		h.history = append(h.history, ev)
		return
	}
	h.history[h.head] = ev
	h.head = (h.head + 1) % len(h.history)
}
