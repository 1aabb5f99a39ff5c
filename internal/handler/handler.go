// Package handler hosts the deterministic task handlers and their registry.
package handler

import (
	"sort"
	"sync"

	"github.com/korahq/kora/internal/ir"
)

// State is the engine's scratch space for one run. Prior task outputs live
// under the "outputs" key; handlers keep their own counters under namespaced
// keys of their choosing.
type State map[string]any

// Outputs returns the per-task outputs recorded in state, or nil.
func Outputs(state State) map[string]map[string]any {
	if state == nil {
		return nil
	}
	out, _ := state["outputs"].(map[string]map[string]any)
	return out
}

// Func executes one deterministic task against the run state.
type Func func(task *ir.Task, state State) (map[string]any, error)

// Registry maps handler names to functions. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register binds fn under name, replacing any previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

func (r *Registry) Resolve(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered handler names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in handler bound.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("echo", Echo)
	r.Register("classify_simple", ClassifySimple)
	r.Register("flaky_once", FlakyOnce)
	r.Register("parse_request_constraints", ParseRequestConstraints)
	r.Register("quality_gate", QualityGate)
	return r
}
