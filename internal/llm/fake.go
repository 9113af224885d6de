package llm

import (
	"context"
	"sync"
)

// Fake implements Client for testing. It returns Response (split into Chunks
// when streaming) or Err, and records every request it receives.
type Fake struct {
	Response string
	Chunks   []string
	Err      error

	mu       sync.Mutex
	requests []Request
}

// Complete records req and returns the canned response.
func (f *Fake) Complete(ctx context.Context, req Request) (string, error) {
	f.record(req)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}

// Stream records req and replays Chunks (or Response as a single chunk).
func (f *Fake) Stream(ctx context.Context, req Request, onText func(string) error) (string, error) {
	f.record(req)
	if f.Err != nil {
		return "", f.Err
	}
	chunks := f.Chunks
	if len(chunks) == 0 && f.Response != "" {
		chunks = []string{f.Response}
	}
	var out string
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out += c
		if err := onText(c); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func (f *Fake) record(req Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
}
