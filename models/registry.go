package models

import (
	"errors"
	"sync"
)

// ErrEmptyRegistry is returned when a role default is resolved against a
// completely empty registry. The static baseline should never be cleared, so
// this indicates a configuration invariant violation and is allowed to
// propagate to the caller.
var ErrEmptyRegistry = errors.New("model registry is empty")

// Registry owns the process-wide current model list. It supports safe
// concurrent reads and single-writer wholesale replacement: the slice is
// never mutated in place, only swapped, so readers cannot observe a
// half-updated set.
type Registry struct {
	mu     sync.RWMutex
	models []Model
}

// NewRegistry creates a registry seeded with initial.
func NewRegistry(initial []Model) *Registry {
	r := &Registry{}
	r.Replace(initial)
	return r
}

// Replace swaps the whole model list atomically.
func (r *Registry) Replace(list []Model) {
	cp := make([]Model, len(list))
	copy(cp, list)
	r.mu.Lock()
	r.models = cp
	r.mu.Unlock()
}

// List returns a copy of the current model list in registry order.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make([]Model, len(r.models))
	copy(cp, r.models)
	return cp
}

// Get returns the model with the given id.
func (r *Registry) Get(id string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// IDs returns the ids of all registered models in registry order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.models))
	for i, m := range r.models {
		ids[i] = m.ID
	}
	return ids
}

// DefaultForRole returns the first model whose default roles contain role.
// When no model claims the role, the first model in registry order is
// returned. An empty registry yields ErrEmptyRegistry.
func (r *Registry) DefaultForRole(role Role) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.models) == 0 {
		return Model{}, ErrEmptyRegistry
	}
	for _, m := range r.models {
		if m.HasRole(role) {
			return m, nil
		}
	}
	return r.models[0], nil
}
