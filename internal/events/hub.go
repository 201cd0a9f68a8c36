// Package events carries human-readable decision and order events from the
// trading loop to observers. Publishing never blocks: a subscriber that
// falls behind loses events rather than stalling the engine.
package events

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindInfo     Kind = "info"
	KindBuy      Kind = "buy"
	KindSell     Kind = "sell"
	KindCancel   Kind = "cancel"
	KindError    Kind = "error"
	KindMarket   Kind = "market"
	KindMomentum Kind = "momentum"
)

const DefaultRecent = 256

type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Time.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(string(e.Kind)))
	b.WriteString("] ")
	if e.Symbol != "" {
		b.WriteString(e.Symbol)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

type Hub struct {
	mu     sync.Mutex
	recent *Ring[Event]
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewHub(recent int) *Hub {
	if recent <= 0 {
		recent = DefaultRecent
	}
	return &Hub{
		recent: NewRing[Event](recent),
		subs:   map[int]chan Event{},
		now:    time.Now,
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = h.now().UTC()
	}
	h.recent.Add(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Publishf(kind Kind, symbol, format string, args ...any) {
	h.Publish(Event{Kind: kind, Symbol: symbol, Message: fmt.Sprintf(format, args...)})
}

// Subscribe returns a channel receiving every event published after the
// call, and a func that unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
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

// Recent returns up to n of the latest events, oldest first.
func (h *Hub) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recent.Last(n)
}
