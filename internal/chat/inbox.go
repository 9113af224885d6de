package chat

import (
	"log"
	"sync"
)

// Inbox is the queue an adapter hands inbound messages to. Platform event
// handlers run on the platform library's goroutines, so Deliver never
// blocks: a message that arrives while the queue is full, or after Close,
// is dropped.
type Inbox struct {
	platform string

	mu     sync.Mutex
	ch     chan InboundMessage
	closed bool
}

// NewInbox creates an Inbox holding up to size undelivered messages.
func NewInbox(platform string, size int) *Inbox {
	return &Inbox{platform: platform, ch: make(chan InboundMessage, size)}
}

// C returns the receive side. It is closed by Close.
func (b *Inbox) C() <-chan InboundMessage { return b.ch }

// Deliver queues msg and reports whether it was accepted.
func (b *Inbox) Deliver(msg InboundMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- msg:
		return true
	default:
		log.Printf("%s: inbound queue full, dropping message from %s", b.platform, msg.UserID)
		return false
	}
}

// Close closes the receive side. Later calls are no-ops.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// Closed reports whether Close has been called.
func (b *Inbox) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
