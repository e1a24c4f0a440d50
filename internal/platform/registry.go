package platform

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Factory constructs a backend from its settings. Construction must not
// touch the network; that is Connect's job.
type Factory func(settings Settings, logger *zap.Logger) (Backend, error)

// Registry maps platform names to backend factories. It holds constructors,
// not live connections, so it needs no teardown.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates a platform name with a factory.
// Re-registering a name overwrites the previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory for a platform name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns all registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry holds the backends that register themselves at init time.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, f Factory) { defaultRegistry.Register(name, f) }

// Lookup queries the default registry.
func Lookup(name string) (Factory, bool) { return defaultRegistry.Lookup(name) }

// Names lists the default registry.
func Names() []string { return defaultRegistry.Names() }

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
