// SPDX-License-Identifier: MIT

package stage

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the name-to-adapter directory. There is exactly one adapter
// per stage name; historical endpoint version suffixes are a worker
// deployment concern, not a registry key.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its declared name. Re-registering a name
// is an error: the DAG depends on stable bindings.
func (r *Registry) Register(a Adapter) error {
	name := a.Spec().Name
	if name == "" {
		return fmt.Errorf("stage: adapter with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("stage: adapter %q already registered", name)
	}
	r.adapters[name] = a
	return nil
}

// Lookup resolves a stage name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
