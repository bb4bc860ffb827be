// Package hierarchy assembles stacks of containers from configuration. The
// first layer is built from a compiler; every further layer decorates the
// layer below it.
package hierarchy

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
)

// Below is what a layer is built on top of. Container is nil for the
// first layer.
type Below struct {
	Compiler  *compiler.Compiler
	Container backends.Container
	Logger    logging.Logger
}

// Factory constructs one layer from its configuration.
type Factory func(config map[string]any, below Below) (backends.Container, error)

// Resolution modes for layer names.
const (
	ResolveModule = "module"
	ResolvePath   = "path"
)

// Registry maps layer names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in layer.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameDirectory, directoryFactory(false))
	r.Register(NameStrictDirectory, directoryFactory(true))
	r.Register(NameHashMap, hashMapFactory)
	r.Register(NameZIPFile, zipFileFactory)
	r.Register(NameMemoryCache, memoryCacheFactory)
	r.Register(NameFileCache, fileCacheFactory)

	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Lookup returns the factory registered for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]

	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.factories))
}

// Resolve finds the factory for name. In module mode name is looked up in
// the registry; in path mode it has the form "file.so:Symbol" and is
// loaded from a Go plugin.
func (r *Registry) Resolve(name, mode string) (Factory, error) {
	switch mode {
	case "", ResolveModule:
		f, ok := r.Lookup(name)
		if !ok {
			return nil, errors.NewConfigError(errors.ErrCodeUnknownLayer,
				fmt.Sprintf("unknown container %q, known are: %s", name, strings.Join(r.Names(), ", ")))
		}

		return f, nil
	case ResolvePath:
		return loadPlugin(name)
	default:
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown resolve mode %q", mode))
	}
}
