package flume

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps workflow-document class tags to node factories. The host
// populates it at startup, before loading documents that reference the
// tags. A Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]NodeFactory
}

// NewRegistry creates an empty registry. Most hosts use the package-level
// default via Register; a private registry isolates engines that must not
// share node classes.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]NodeFactory)}
}

// Register adds a node factory under a class tag. It panics on an empty
// tag, a nil factory, or a duplicate registration: all three are
// programming errors that should surface at startup, not at load time.
func (r *Registry) Register(class string, factory NodeFactory) {
	if class == "" {
		panic("flume: Register called with empty class tag")
	}
	if factory == nil {
		panic(fmt.Sprintf("flume: Register called with nil factory for class %q", class))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		panic(fmt.Sprintf("flume: class %q already registered", class))
	}
	r.factories[class] = factory
}

// Lookup returns the factory for a class tag.
func (r *Registry) Lookup(class string) (NodeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[class]
	return f, ok
}

// Classes returns the registered class tags in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for class := range r.factories {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// defaultRegistry backs the package-level Register, mirroring the
// process-wide registry hosts expect from a workflow runtime.
var defaultRegistry = NewRegistry()

// Register adds a node factory to the process-wide default registry.
// Engines use the default registry unless constructed with WithRegistry.
func Register(class string, factory NodeFactory) {
	defaultRegistry.Register(class, factory)
}

// DefaultRegistry returns the process-wide registry used by Register.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
