package trace

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosedPipe is returned by Pipe.Emit after the consumer closed the pipe
// or the producer already called Finish.
var ErrClosedPipe = errors.New("trace: emit on closed pipe")

// Stream is a lazy, finite, non-restartable sequence of events. Next returns
// io.EOF once the sequence is exhausted, and keeps returning it afterwards.
// Any other error is a failure of the producer.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Pipe connects a producing goroutine to a consumer. The producer calls Emit
// for each event and Finish exactly once; the consumer reads with Next.
type Pipe struct {
	ch   chan Event
	done chan struct{}

	// mu is held across the send in Emit so Finish cannot close ch under it.
	mu        sync.Mutex
	err       error
	finished  bool
	closeOnce sync.Once
}

// NewPipe creates a Pipe with the given channel buffer.
func NewPipe(buffer int) *Pipe {
	if buffer < 0 {
		buffer = 0
	}
	return &Pipe{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Emit hands ev to the consumer. It blocks while the buffer is full and
// returns early if ctx is cancelled or the consumer closed the pipe.
func (p *Pipe) Emit(ctx context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return ErrClosedPipe
	}
	select {
	case <-p.done:
		return ErrClosedPipe
	default:
	}
	select {
	case p.ch <- ev:
		return nil
	case <-p.done:
		return ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish marks the end of the sequence. A nil err means normal exhaustion.
// Calls after the first are ignored.
func (p *Pipe) Finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.err = err
	close(p.ch)
}

// Next returns the next event, io.EOF after normal exhaustion, or the error
// passed to Finish.
func (p *Pipe) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-p.ch:
		if ok {
			return ev, nil
		}
		p.mu.Lock()
		err := p.err
		p.mu.Unlock()
		if err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close releases a blocked producer. It does not drain buffered events.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// sliceStream replays a fixed list of events.
type sliceStream struct {
	events []Event
	pos    int
	err    error
}

// Slice returns a Stream over a fixed list of events.
func Slice(events ...Event) Stream {
	return &sliceStream{events: events}
}

// Failing returns a Stream that yields events and then fails with err.
func Failing(err error, events ...Event) Stream {
	return &sliceStream{events: events, err: err}
}

func (s *sliceStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error { return nil }

// Drain reads s until exhaustion, calling fn for each event in arrival order.
// It returns nil on normal exhaustion, the first error from fn, or the
// stream's failure. The stream is closed before returning.
func Drain(ctx context.Context, s Stream, fn func(Event) error) error {
	defer s.Close()
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
