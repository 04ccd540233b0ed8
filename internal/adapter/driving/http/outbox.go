package http

import (
	"sync"

	"github.com/x18ops/signaling/internal/core/domain"
)

// outbox is a connection's bounded outbound queue. Put never blocks: when the
// queue is full the newest message is dropped, so one stalled peer can never
// back-pressure the router or other connections.
type outbox struct {
	mu     sync.Mutex
	ch     chan domain.Envelope
	closed bool
}

func newOutbox(size int) *outbox {
	return &outbox{ch: make(chan domain.Envelope, size)}
}

func (o *outbox) put(env domain.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.ErrQueueFull
	}
	select {
	case o.ch <- env:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
