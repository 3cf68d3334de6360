package provider

import (
	"sync"

	"github.com/emreis/sanalpos/infra/apperr"
)

// Registry maps provider tags to adapter factories
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds an adapter factory under a provider tag
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Create instantiates the adapter for tag; unknown tags fail early
func (r *Registry) Create(tag string, deps Deps) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.factories[tag]
	r.mu.RUnlock()

	if !exists {
		return nil, apperr.Newf(apperr.KindNotImplemented, "payment provider %q is not registered", tag)
	}
	return factory(deps), nil
}

// Tags returns all registered provider tags
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}

// DefaultRegistry is the global registry adapters self-register into
var DefaultRegistry = NewRegistry()

// Register registers a factory with the default registry
func Register(tag string, factory Factory) {
	DefaultRegistry.Register(tag, factory)
}
