package events

import (
	"sync"

	"gepspresale/core/types"
)

const defaultHubBacklog = 256

// Hub is an in-process emitter that retains a bounded backlog and fans events
// out to live subscribers. Slow subscribers miss events rather than blocking
// the engine.
type Hub struct {
	mu      sync.Mutex
	limit   int
	backlog []*types.Event
	subs    map[uint64]chan *types.Event
	nextID  uint64
}

// NewHub constructs a hub retaining at most backlog events for late joiners.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultHubBacklog
	}
	return &Hub{limit: backlog, subs: make(map[uint64]chan *types.Event)}
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = append(h.backlog, payload)
	if overflow := len(h.backlog) - h.limit; overflow > 0 {
		h.backlog = append([]*types.Event(nil), h.backlog[overflow:]...)
	}
	for _, ch := range h.subs {
		select {
		case ch <- payload.Clone():
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel, a cancel function
// and a copy of the retained backlog. The channel is closed on cancel.
func (h *Hub) Subscribe(buffer int) (<-chan *types.Event, func(), []*types.Event) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *types.Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	backlog := make([]*types.Event, 0, len(h.backlog))
	for _, evt := range h.backlog {
		backlog = append(backlog, evt.Clone())
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
