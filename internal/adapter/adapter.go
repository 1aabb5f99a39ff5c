// Package adapter defines the inference-stage contract, the adapter registry,
// and the built-in mock and OpenAI adapters.
package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/korahq/kora/internal/event"
	"github.com/korahq/kora/internal/ir"
)

// Request carries one invocation of an inference stage.
type Request struct {
	TaskID       string
	Input        map[string]any
	OutputSchema map[string]any
	Budget       ir.Budget
	Attempt      int
}

// Result is the adapter's reply. Failures are reported in-band through OK and
// Err rather than as Go errors; TimedOut marks failures caused by the time
// budget so callers can classify them as budget breaches.
type Result struct {
	OK       bool
	Output   map[string]any
	Usage    event.Usage
	Meta     map[string]any
	Err      string
	TimedOut bool
}

// Adapter is a named, possibly remote inference stage.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) Result
}

// Registry maps adapter names, bare ("openai") and stage-qualified
// ("openai:gate"), to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register stores a under its Name, replacing any previous entry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve looks up an adapter by exact name.
func (r *Registry) Resolve(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// ResolveStage resolves an escalation stage token against the registry: the
// bare token first, then "<base>:<token>".
func (r *Registry) ResolveStage(base, token string) (Adapter, bool) {
	if a, ok := r.Resolve(token); ok {
		return a, true
	}
	return r.Resolve(base + ":" + token)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in adapters: a mock for
// offline runs and the OpenAI stages used by the escalation ladder. The mock
// answers from the requested output schema so shipped graphs verify offline.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewMock("mock", MockOptions{Confidence: 0.9, Output: CannedOutput}))
	r.Register(NewOpenAI())
	r.Register(NewOpenAIMini())
	r.Register(NewOpenAIFull())
	r.Register(NewOpenAIGate())
	r.Register(NewOpenAIFullStage())
	return r
}
