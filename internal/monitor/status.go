package monitor

import (
	"sync"

	"github.com/t77yq/safewatch/internal/model"
)

// StatusHub broadcasts the latest EngineStatus. Slow subscribers skip
// intermediate values and always see the most recent one.
type StatusHub struct {
	mu     sync.Mutex
	latest model.EngineStatus
	subs   map[int]chan model.EngineStatus
	next   int
}

// NewStatusHub creates a hub holding initial
func NewStatusHub(initial model.EngineStatus) *StatusHub {
	return &StatusHub{
		latest: initial,
		subs:   make(map[int]chan model.EngineStatus),
	}
}

// Publish replaces the latest status and wakes subscribers
func (h *StatusHub) Publish(st model.EngineStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = st
	for _, ch := range h.subs {
		// drop the stale value, if any
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

// Latest returns the most recently published status
func (h *StatusHub) Latest() model.EngineStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Subscribe returns a channel primed with the latest status and a function
// that ends the subscription.
func (h *StatusHub) Subscribe() (<-chan model.EngineStatus, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan model.EngineStatus, 1)
	ch <- h.latest
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}
