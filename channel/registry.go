package channel

import (
	"fmt"
	"sync"
)

// Registry maps channel kinds to factories so stores and executors can
// hydrate channels without knowing concrete implementations. New channel
// kinds are added by registering a factory; nothing in the store layer needs
// to change.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Channel)}
}

// globalRegistry is the singleton instance with the built-in kinds.
var globalRegistry = func() *Registry {
	r := NewRegistry()
	r.factories[KindLastValue] = func() Channel { return NewLastValue() }
	r.factories[KindUntracked] = func() Channel { return NewUntrackedValue() }
	r.factories[KindTopic] = func() Channel { return NewTopic() }
	return r
}()

// GlobalRegistry returns the global registry instance.
func GlobalRegistry() *Registry {
	return globalRegistry
}

// Register adds a factory for a channel kind to the global registry.
func Register(kind string, factory func() Channel) error {
	return globalRegistry.Register(kind, factory)
}

// New creates a fresh channel of the given kind from the global registry.
func New(kind string) (Channel, error) {
	return globalRegistry.New(kind)
}

// Register adds a factory for a channel kind.
func (r *Registry) Register(kind string, factory func() Channel) error {
	if kind == "" {
		return fmt.Errorf("channel kind must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for channel kind %q must not be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("channel kind %q is already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// New creates a fresh channel of the given kind.
func (r *Registry) New(kind string) (Channel, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown channel kind %q", kind)
	}
	return factory(), nil
}

// Kinds returns the registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	return kinds
}
