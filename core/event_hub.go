package core

import (
	"sync"

	"cdpchain/core/types"
)

const defaultRecentEvents = 1024

type eventHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan *types.Event
	ring   []*types.Event
	limit  int
}

func newEventHub(limit int) *eventHub {
	if limit <= 0 {
		limit = defaultRecentEvents
	}
	return &eventHub{subs: make(map[uint64]chan *types.Event), limit: limit}
}

func (h *eventHub) subscribe(buffer int) (<-chan *types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *types.Event, buffer)
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

func (h *eventHub) broadcast(evts []*types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring = append(h.ring, evts...)
	if over := len(h.ring) - h.limit; over > 0 {
		h.ring = append([]*types.Event(nil), h.ring[over:]...)
	}
	for _, ch := range h.subs {
		for _, evt := range evts {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

func (h *eventHub) recent(eventType string, limit int) []*types.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*types.Event, 0, len(h.ring))
	for _, evt := range h.ring {
		if eventType == "" || evt.Type == eventType {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
