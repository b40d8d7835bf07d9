package transfer

import (
	"errors"
	"sync"
)

var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is an unbounded FIFO of messages for one session. Any goroutine may Push; only the
// session consumes. Delivery is best effort: a message that fails to send is dropped.
type Outbox struct {
	mu     sync.Mutex
	queue  []Message
	ready  chan struct{}
	closed bool
}

func NewOutbox() *Outbox {
	return &Outbox{
		ready: make(chan struct{}, 1),
	}
}

// Push queues m without blocking.
func (o *Outbox) Push(m Message) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
	return nil
}

// Ready fires when at least one message may be waiting.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Pop takes the oldest message. If more remain, Ready fires again so the consumer comes back
// for them on a later iteration.
func (o *Outbox) Pop() (Message, bool) {
	o.mu.Lock()
	if len(o.queue) == 0 {
		o.mu.Unlock()
		return Message{}, false
	}
	m := o.queue[0]
	o.queue[0] = Message{}
	o.queue = o.queue[1:]
	more := len(o.queue) > 0
	o.mu.Unlock()
	if more {
		o.signal()
	}
	return m, true
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Close rejects further pushes and discards anything still queued.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
}

func (o *Outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
