package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/glassbead/atris/internal/agent"
	"github.com/glassbead/atris/internal/router"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	r, _ := router.New(router.Opts{Classifier: router.NewKeywordClassifier(nil), Out: io.Discard})
	reg := agent.NewRegistry()
	reg.Bind(router.General, answering("ok"))
	m, err := NewManager(ManagerOpts{Router: r, Agents: reg, TTL: ttl, Out: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(ManagerOpts{Agents: agent.NewRegistry()}); err == nil {
		t.Error("expected error for missing router")
	}
}

func TestManager_GetReturnsSameSession(t *testing.T) {
	m := newTestManager(t, time.Hour)
	a := m.Get("abc")
	b := m.Get("abc")
	if a != b {
		t.Error("Get should return the same session for the same id")
	}
	if a.ID() != "abc" {
		t.Errorf("ID = %q", a.ID())
	}
	if c := m.Get(""); c.ID() == "" || c == a {
		t.Error("empty id should create a fresh session with a generated id")
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if _, ok := m.Lookup("missing"); ok {
		t.Error("Lookup should not create sessions")
	}
}

func TestManager_SessionsAreIndependent(t *testing.T) {
	m := newTestManager(t, time.Hour)
	ask(t, m.Get("a"), "first")
	if st := m.Get("b").Snapshot(); len(st.Events) != 0 {
		t.Errorf("session b events = %d, want 0", len(st.Events))
	}
}

func TestManager_Evict(t *testing.T) {
	m := newTestManager(t, time.Minute)
	idle := m.Get("idle")
	watched := m.Get("watched")
	_, unsubscribe := watched.Subscribe()
	defer unsubscribe()

	if n := m.Evict(time.Now()); n != 0 {
		t.Errorf("Evict now = %d, want 0", n)
	}
	n := m.Evict(time.Now().Add(2 * time.Minute))
	if n != 1 {
		t.Errorf("Evict later = %d, want 1", n)
	}
	if _, ok := m.Lookup(idle.ID()); ok {
		t.Error("idle session should be evicted")
	}
	if _, ok := m.Lookup("watched"); !ok {
		t.Error("session with a subscriber should be kept")
	}
}

func TestManager_ZeroTTLNeverEvicts(t *testing.T) {
	m := newTestManager(t, 0)
	m.Get("a")
	if n := m.Evict(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("Evict = %d, want 0", n)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)
}
