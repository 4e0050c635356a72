// Package events fans relay activity out to live subscribers: the admin
// API's /events stream and anything else that wants delivery outcomes or
// monitor changes as they happen.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the relay.
const (
	TypeDelivery       = "delivery"
	TypeMonitorAdded   = "monitor.added"
	TypeMonitorRemoved = "monitor.removed"
)

const (
	defaultCapacity  = 100
	subscriberBuffer = 128
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub that keeps the most recent events so a
// reconnecting client can resume from its Last-Event-ID.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	backlog *ring
	subs    map[uint64]chan Event
	subSeq  uint64
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Hub{
		backlog: newRing(capacity),
		subs:    make(map[uint64]chan Event),
	}
}

// Publish marshals data to JSON and hands the event to every subscriber.
// It never blocks: a subscriber with a full buffer misses the event and can
// catch up with SnapshotSince.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the backlog stays ordered.
	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.backlog.add(ev)

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned cancel func closes the
// channel and may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subSeq++
	id := h.subSeq
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns backlog events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backlog.after(lastID)
}

// ring is a fixed-size FIFO that overwrites its oldest entry when full.
type ring struct {
	buf  []Event
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]Event, n)} }

func (r *ring) add(ev Event) {
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) after(id int64) []Event {
	ordered := r.buf[:r.next]
	if r.full {
		ordered = append(append([]Event{}, r.buf[r.next:]...), r.buf[:r.next]...)
	}

	out := make([]Event, 0, len(ordered))
	for _, ev := range ordered {
		if ev.ID > id {
			out = append(out, ev)
		}
	}
	return out
}
