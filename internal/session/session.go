// Package session consumes agent event streams on behalf of one client. A
// Session holds the {input, events, isLoading} state of the query console,
// runs at most one query at a time, and publishes every state transition to
// its subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/glassbead/atris/internal/agent"
	"github.com/glassbead/atris/internal/router"
	"github.com/glassbead/atris/internal/trace"
	"github.com/google/uuid"
)

var (
	// ErrEmptyInput is returned by Submit for empty input. Nothing changes.
	ErrEmptyInput = errors.New("session: empty input")
	// ErrBusy is returned by Submit while a run is loading. Nothing changes.
	ErrBusy = errors.New("session: a query is already running")
)

// Failure stages recorded on the terminal error event.
const (
	StageLookup = "lookup"
	StageInvoke = "invoke"
	StageStream = "stream"
)

// Router picks the category for a query. *router.Router satisfies it.
type Router interface {
	Route(ctx context.Context, query string) router.Category
}

// Agents resolves a category to its agent. *agent.Registry satisfies it.
type Agents interface {
	Lookup(cat router.Category) (agent.Agent, error)
}

// State is a point-in-time copy of a session.
type State struct {
	Input    string          `json:"input"`
	Events   []trace.Event   `json:"events"`
	Loading  bool            `json:"isLoading"`
	RunID    string          `json:"run_id,omitempty"`
	Category router.Category `json:"category,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Question returns the echoed query of the current run, if it should be
// shown. See trace.Question.
func (s State) Question() (string, bool) {
	return trace.Question(s.Events)
}

// Result returns the final answer of the current run, if it should be shown.
// See trace.Result.
func (s State) Result() (string, bool) {
	return trace.Result(s.Events, s.Loading)
}

// Session is the state of one client's query console.
type Session struct {
	id        string
	router    Router
	agents    Agents
	out       io.Writer
	subBuffer int

	mu         sync.Mutex
	state      State
	lastActive time.Time
	subs       map[int]chan Transition
	nextSub    int
}

// Opts holds parameters for creating a Session.
type Opts struct {
	ID               string // defaults to a random UUID
	Router           Router
	Agents           Agents
	Out              io.Writer // defaults to os.Stdout
	SubscriberBuffer int       // defaults to 256
}

// New creates an idle Session.
func New(opts Opts) (*Session, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("session: router is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("session: agents are required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	buf := opts.SubscriberBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Session{
		id:         id,
		router:     opts.Router,
		agents:     opts.Agents,
		out:        out,
		subBuffer:  buf,
		state:      State{Events: []trace.Event{}},
		lastActive: time.Now(),
		subs:       make(map[int]chan Transition),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Events = append([]trace.Event{}, s.state.Events...)
	return st
}

// SetInput records the current contents of the input field.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Input = text
	s.lastActive = time.Now()
}

// Run is a handle on one submitted query.
type Run struct {
	ID   string
	done chan struct{}
}

// Done is closed once the run has finished and loading is cleared.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts a run for input and returns without waiting for it. Empty
// input returns ErrEmptyInput and a submit during a run returns ErrBusy;
// neither changes the state.
//
// The run is detached from ctx's cancellation: it always proceeds until the
// agent's stream is exhausted or fails.
func (s *Session) Submit(ctx context.Context, input string) (*Run, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.state.Loading {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	run := &Run{ID: uuid.NewString(), done: make(chan struct{})}
	s.state = State{
		Events:  []trace.Event{},
		Loading: true,
		RunID:   run.ID,
	}
	s.lastActive = time.Now()
	s.publishLocked(Transition{Kind: KindReset, RunID: run.ID})
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), run, input)
	return run, nil
}

// Ask submits input and waits for the run to finish.
func (s *Session) Ask(ctx context.Context, input string) (State, error) {
	run, err := s.Submit(ctx, input)
	if err != nil {
		return State{}, err
	}
	if err := run.Wait(ctx); err != nil {
		return State{}, err
	}
	return s.Snapshot(), nil
}

func (s *Session) run(ctx context.Context, run *Run, input string) {
	defer close(run.done)

	cat := s.router.Route(ctx, input)
	s.mu.Lock()
	s.state.Category = cat
	s.mu.Unlock()
	fmt.Fprintf(s.out, "session %s: run %s → %s agent\n", shortID(s.id), shortID(run.ID), cat)

	a, err := s.agents.Lookup(cat)
	if err != nil {
		s.finish(run.ID, StageLookup, err)
		return
	}
	stream, err := a.Invoke(ctx, input)
	if err != nil {
		s.finish(run.ID, StageInvoke, err)
		return
	}
	err = trace.Drain(ctx, stream, func(ev trace.Event) error {
		s.append(run.ID, ev)
		return nil
	})
	if err != nil {
		s.finish(run.ID, StageStream, err)
		return
	}
	s.finish(run.ID, "", nil)
}

// append adds ev to the current run's events and publishes it.
func (s *Session) append(runID string, ev trace.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.RunID = runID
	ev.Seq = len(s.state.Events) + 1
	s.state.Events = append(s.state.Events, ev)
	s.publishLocked(Transition{Kind: KindTrace, RunID: runID, Event: &ev})
}

// finish ends the run. A non-nil err is recorded as a terminal error event.
func (s *Session) finish(runID, stage string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msg string
	if err != nil {
		ev := trace.Failure(stage, err)
		ev.RunID = runID
		ev.Seq = len(s.state.Events) + 1
		s.state.Events = append(s.state.Events, ev)
		s.publishLocked(Transition{Kind: KindTrace, RunID: runID, Event: &ev})
		msg = fmt.Sprintf("%s: %v", stage, err)
		s.state.Error = msg
		fmt.Fprintf(s.out, "session %s: run %s failed at %s: %v\n", shortID(s.id), shortID(runID), stage, err)
	}
	s.state.Loading = false
	s.lastActive = time.Now()
	s.publishLocked(Transition{Kind: KindDone, RunID: runID, Error: msg})
}

// idle reports whether the session has no run, no subscribers, and no
// activity since before cutoff.
func (s *Session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Loading && len(s.subs) == 0 && s.lastActive.Before(cutoff)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
