package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager holds one Session per client ID (web cookie, chat thread). Sessions
// live in memory only and are evicted after TTL without activity.
type Manager struct {
	router Router
	agents Agents
	out    io.Writer
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOpts holds parameters for creating a Manager.
type ManagerOpts struct {
	Router Router
	Agents Agents
	TTL    time.Duration // 0 disables eviction
	Out    io.Writer     // defaults to os.Stdout
}

// NewManager creates an empty Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("session: manager: router is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("session: manager: agents are required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		router:   opts.Router,
		agents:   opts.Agents,
		out:      out,
		ttl:      opts.TTL,
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the session for id, creating it if needed. An empty id creates
// a session under a new random ID.
func (m *Manager) Get(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	// New only fails on missing router or agents, which NewManager rejects.
	s, _ := New(Opts{ID: id, Router: m.router, Agents: m.agents, Out: m.out})
	m.sessions[id] = s
	return s
}

// Lookup returns the session for id without creating one.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict removes sessions idle since before now-TTL and returns how many were
// removed. Sessions with a running query or a live subscriber are kept.
func (m *Manager) Evict(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.idle(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Run evicts idle sessions periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Evict(now); n > 0 {
				fmt.Fprintf(m.out, "session: evicted %d idle session(s)\n", n)
			}
		}
	}
}
