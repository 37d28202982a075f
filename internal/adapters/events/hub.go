package events

import (
	"sync"

	"github.com/viralforge/hui-ledger/internal/domain"
)

// Hub fans committed events out to live subscribers. A subscriber that falls
// more than its buffer behind is dropped: its channel is closed and it must
// resume from the history using the last sequence it saw.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Event
}

func NewHub() *Hub {
	return &Hub{subs: map[int]chan domain.Event{}}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (h *Hub) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *Hub) Notify(events []domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		for _, ev := range events {
			select {
			case ch <- ev.Clone():
			default:
				delete(h.subs, id)
				close(ch)
			}
			if _, ok := h.subs[id]; !ok {
				break
			}
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
