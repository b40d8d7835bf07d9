package transfer

import (
	"errors"
	"sync"
)

var ErrNoSession = errors.New("no live session with this identifier")

// Hub maps identifiers of live sessions to their outboxes so that code outside the session
// goroutine can reach the client.
type Hub struct {
	mu       sync.Mutex
	outboxes map[string]*Outbox
}

func NewHub() *Hub {
	return &Hub{
		outboxes: make(map[string]*Outbox),
	}
}

// Notify queues m for the session with this identifier.
func (h *Hub) Notify(id string, m Message) error {
	h.mu.Lock()
	o := h.outboxes[id]
	h.mu.Unlock()
	if o == nil {
		return ErrNoSession
	}
	return o.Push(m)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.outboxes)
}

// register returns false if another live session already holds id. The newer session wins.
func (h *Hub) register(id string, o *Outbox) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, exists := h.outboxes[id]
	h.outboxes[id] = o
	return !exists
}

func (h *Hub) unregister(id string, o *Outbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outboxes[id] == o {
		delete(h.outboxes, id)
	}
}
