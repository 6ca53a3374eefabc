package events

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const subscriberBuffer = 64

// Hub fans events out to subscribers and keeps the board of persistent advisories.
type Hub struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	board map[string]Advisory
}

func NewHub() *Hub {
	return &Hub{
		subs:  map[chan Event]struct{}{},
		board: map[string]Advisory{},
	}
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch. The channel is not closed; the subscriber owns its lifetime.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("event dropped for slow subscriber", "type", ev.Type)
		}
	}
}

// Raise publishes a. Persistent advisories replace any existing one of the same kind.
func (h *Hub) Raise(a Advisory) {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = time.Now().UTC()
	}
	if a.Persistent {
		h.mu.Lock()
		h.board[a.Kind] = a
		h.mu.Unlock()
	}
	h.Publish(Event{Type: TypeAdvisory, Kind: a.Kind, Advisory: &a})
}

// Clear removes a persistent advisory. Clearing an absent kind is a no-op.
func (h *Hub) Clear(kind string) {
	h.mu.Lock()
	_, ok := h.board[kind]
	delete(h.board, kind)
	h.mu.Unlock()
	if ok {
		h.Publish(Event{Type: TypeAdvisoryCleared, Kind: kind})
	}
}

// Advisories returns the persistent advisories, oldest first.
func (h *Hub) Advisories() []Advisory {
	h.mu.Lock()
	out := make([]Advisory, 0, len(h.board))
	for _, a := range h.board {
		out = append(out, a)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.Before(out[j].RaisedAt) })
	return out
}
