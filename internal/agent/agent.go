// Package agent defines the unified agent call shape and the built-in agents
// that answer routed queries with a stream of trace events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/glassbead/atris/internal/config"
	"github.com/glassbead/atris/internal/llm"
	"github.com/glassbead/atris/internal/router"
	"github.com/glassbead/atris/internal/trace"
)

// streamBuffer is the channel buffer between an agent's producer goroutine
// and the consumer.
const streamBuffer = 16

// ErrNoAgent is returned by Registry.Lookup for an unbound category.
var ErrNoAgent = errors.New("agent: no agent bound to category")

// Agent answers a query with a lazy stream of trace events. Invoke returns an
// error only when the run cannot start; failures after that surface through
// the stream.
type Agent interface {
	Invoke(ctx context.Context, input string) (trace.Stream, error)
}

// Func adapts a function to the Agent interface.
type Func func(ctx context.Context, input string) (trace.Stream, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, input string) (trace.Stream, error) {
	return f(ctx, input)
}

// Registry binds categories to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[router.Category]Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[router.Category]Agent)}
}

// Bind sets the agent for cat, replacing any previous binding.
func (r *Registry) Bind(cat router.Category, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[cat] = a
}

// Lookup returns the agent bound to cat.
func (r *Registry) Lookup(cat router.Category) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[cat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAgent, cat)
	}
	return a, nil
}

// FromConfig builds a registry with one agent per category. client may be
// nil when no configured agent needs it.
func FromConfig(cfg config.AgentsConfig, client llm.Client) (*Registry, error) {
	reg := NewRegistry()
	bindings := []struct {
		cat router.Category
		ac  config.AgentConfig
	}{
		{router.General, cfg.General},
		{router.Audius, cfg.Audius},
	}
	for _, b := range bindings {
		a, err := build(b.ac, client)
		if err != nil {
			return nil, fmt.Errorf("agent: %s: %w", b.cat, err)
		}
		reg.Bind(b.cat, a)
	}
	return reg, nil
}

func build(ac config.AgentConfig, client llm.Client) (Agent, error) {
	switch ac.Kind {
	case config.KindClaude:
		if client == nil {
			return nil, fmt.Errorf("claude agent needs an llm client")
		}
		return NewClaude(client), nil
	case config.KindAudius:
		return NewAudius(AudiusOpts{
			APIHost:     ac.APIHost,
			AppName:     ac.AppName,
			SearchLimit: ac.SearchLimit,
			LLM:         client,
		}), nil
	case config.KindRemote:
		return NewRemote(RemoteOpts{URL: ac.URL})
	}
	return nil, fmt.Errorf("unknown agent kind %q", ac.Kind)
}

// produce runs fn on a new goroutine, handing it an emit function bound to a
// fresh pipe, and returns the pipe. fn's return value finishes the stream.
func produce(ctx context.Context, fn func(emit func(trace.Event) error) error) trace.Stream {
	p := trace.NewPipe(streamBuffer)
	go func() {
		p.Finish(fn(func(ev trace.Event) error {
			return p.Emit(ctx, ev)
		}))
	}()
	return p
}
