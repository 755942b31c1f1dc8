// Package adapters holds the adapter registry and the built-in adapters
// that plug backend services into the engine.
package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/orchis-io/orchis/pkg/engine"
)

// Registry is a thread-safe mapping from resource kind to adapter. It
// implements engine.AdapterRegistry.
type Registry struct {
	// mu protects the adapter map.
	mu sync.RWMutex

	// adapters maps resource kind to adapter instance.
	adapters map[string]engine.Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]engine.Adapter),
	}
}

// Register adds an adapter under its resource kind. Registering the same
// kind twice is an error; the engine's behavior must not depend on which
// adapter happened to win.
func (r *Registry) Register(adapter engine.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := adapter.Kind()
	if kind == "" {
		return fmt.Errorf("adapter has empty kind")
	}
	if _, exists := r.adapters[kind]; exists {
		return fmt.Errorf("adapter for kind %s already registered", kind)
	}

	r.adapters[kind] = adapter
	return nil
}

// Get returns the adapter for the kind.
func (r *Registry) Get(kind string) (engine.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[kind]
	if !exists {
		return nil, engine.NewFatalError(
			fmt.Sprintf("no adapter registered for kind %s", kind), nil,
		).WithCode(engine.ErrCodeValidation)
	}
	return adapter, nil
}

// Kinds lists all registered resource kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
