package session

import (
	"time"

	"github.com/glassbead/atris/internal/trace"
)

// TransitionKind names a state change.
type TransitionKind string

const (
	// KindSnapshot carries the full state; sent first to every subscriber.
	KindSnapshot TransitionKind = "snapshot"
	// KindReset marks the start of a run: events cleared, loading set.
	KindReset TransitionKind = "reset"
	// KindTrace carries one event appended to the current run.
	KindTrace TransitionKind = "trace"
	// KindDone marks the end of a run: loading cleared.
	KindDone TransitionKind = "done"
)

// Transition is one observable change to a session's state.
type Transition struct {
	Kind  TransitionKind `json:"kind"`
	RunID string         `json:"run_id,omitempty"`
	State *State         `json:"state,omitempty"` // snapshot
	Event *trace.Event   `json:"event,omitempty"` // trace
	Error string         `json:"error,omitempty"` // done, when the run failed
}

// Subscribe returns a channel of transitions, starting with a snapshot of the
// current state, and a function that unsubscribes and closes the channel.
// A subscriber that falls behind by more than the buffer loses transitions;
// it can resync from Snapshot.
func (s *Session) Subscribe() (<-chan Transition, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Transition, s.subBuffer)
	st := s.snapshotLocked()
	ch <- Transition{Kind: KindSnapshot, RunID: st.RunID, State: &st}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var closed bool
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if closed {
			return
		}
		closed = true
		s.lastActive = time.Now()
		delete(s.subs, id)
		close(ch)
	}
}

// publishLocked fans t out to subscribers, dropping it for any whose buffer
// is full. Callers hold s.mu.
func (s *Session) publishLocked(t Transition) {
	for _, ch := range s.subs {
		select {
		case ch <- t:
		default:
		}
	}
}
