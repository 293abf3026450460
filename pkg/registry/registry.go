// Package registry is the authoritative store of agents, versions, master
// data (skills, tools, constraints), workflows, templates, and secrets.
package registry

import (
	"sync"

	"github.com/agentmesh/agentmesh/pkg/types"
)

// Registry is a named collection with uniqueness on registration. The
// dispatcher uses it for its model provider set; anything keyed by a unique
// name fits.
type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Remove(name string) error
	Count() int
	Clear()
}

// BaseRegistry is the in-memory Registry implementation.
type BaseRegistry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{items: make(map[string]T)}
}

func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return types.NewError(types.ErrBadInput, "registry name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return types.NewError(types.ErrConflict, "%q is already registered", name)
	}

	r.items[name] = item
	return nil
}

// Put registers or replaces without the uniqueness check.
func (r *BaseRegistry[T]) Put(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = item
}

func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	return items
}

func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; !exists {
		return types.NewError(types.ErrNotFound, "%q is not registered", name)
	}

	delete(r.items, name)
	return nil
}

func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[string]T)
}
