package chat

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockAdapter is an in-memory Adapter. Tests inject inbound messages with
// Inject and inspect replies with Sent, Last and WaitSent.
type MockAdapter struct {
	inbox *Inbox

	mu        sync.Mutex
	online    bool
	botUserID string
	failWith  error
	sent      []OutboundMessage
	changed   chan struct{} // closed and replaced on every successful Send
}

// NewMockAdapter creates a MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbox:   NewInbox("mock", 64),
		changed: make(chan struct{}),
	}
}

func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// FailSends makes every later Send return err. A nil err clears it.
func (m *MockAdapter) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockAdapter) Connect(ctx context.Context) error {
	if m.inbox.Closed() {
		return errors.New("mock: connect after close")
	}
	m.mu.Lock()
	m.online = true
	m.mu.Unlock()
	return nil
}

func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, errors.New("mock: listen before connect")
	}
	return m.inbox.C(), nil
}

func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.online:
		return errors.New("mock: send while offline")
	case m.failWith != nil:
		return m.failWith
	}
	m.sent = append(m.sent, msg)
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

func (m *MockAdapter) Close() error {
	m.mu.Lock()
	m.online = false
	m.mu.Unlock()
	m.inbox.Close()
	return nil
}

// Inject delivers msg as if the platform had received it. A zero Timestamp
// is set to now.
func (m *MockAdapter) Inject(msg InboundMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return m.inbox.Deliver(msg)
}

// Sent returns a copy of every reply sent so far.
func (m *MockAdapter) Sent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundMessage(nil), m.sent...)
}

// Last returns the most recent reply.
func (m *MockAdapter) Last() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// WaitSent waits up to timeout for at least n replies.
func (m *MockAdapter) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		count, changed := len(m.sent), m.changed
		m.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}
