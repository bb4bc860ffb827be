package hierarchy

import (
	"context"
	"fmt"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
)

// LayerConfig names one layer and its configuration.
type LayerConfig struct {
	Name   string         `mapstructure:"name" json:"name" yaml:"name"`
	Config map[string]any `mapstructure:"config" json:"config,omitempty" yaml:"config,omitempty"`
}

// BackendConfig describes a whole hierarchy, bottom layer first.
type BackendConfig struct {
	Resolve    string        `mapstructure:"resolve" json:"resolve" yaml:"resolve"`
	Containers []LayerConfig `mapstructure:"containers" json:"containers" yaml:"containers"`
}

// Builder stacks layers on top of each other.
type Builder struct {
	compiler *compiler.Compiler
	registry *Registry
	resolve  string
	logger   logging.Logger
	layers   []backends.Container
}

// NewBuilder creates an empty Builder resolving names with mode.
func NewBuilder(c *compiler.Compiler, registry *Registry, mode string, logger logging.Logger) *Builder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Builder{compiler: c, registry: registry, resolve: mode, logger: logger}
}

// Add builds a layer with factory on top of the current hierarchy.
func (b *Builder) Add(factory Factory, config map[string]any) error {
	if config == nil {
		config = map[string]any{}
	}
	below := Below{Compiler: b.compiler, Logger: b.logger}
	if len(b.layers) > 0 {
		below.Container = b.layers[len(b.layers)-1]
	}

	container, err := factory(config, below)
	if err != nil {
		return err
	}
	b.layers = append(b.layers, container)

	return nil
}

// AddName resolves name and adds the layer it names.
func (b *Builder) AddName(name string, config map[string]any) error {
	factory, err := b.registry.Resolve(name, b.resolve)
	if err != nil {
		return err
	}
	if err := b.Add(factory, config); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	b.logger.Debug(context.Background(), "added container", "name", name, "depth", len(b.layers))

	return nil
}

// AddConfig adds every layer in order.
func (b *Builder) AddConfig(layers []LayerConfig) error {
	for _, layer := range layers {
		if layer.Name == "" {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, "container without a name")
		}
		if err := b.AddName(layer.Name, layer.Config); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of layers.
func (b *Builder) Len() int {
	return len(b.layers)
}

// Hierarchy returns the top layer.
func (b *Builder) Hierarchy() (backends.Container, error) {
	if len(b.layers) == 0 {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "hierarchy has no containers")
	}

	return b.layers[len(b.layers)-1], nil
}

// Pop removes the top layer without closing it and returns it.
func (b *Builder) Pop() (backends.Container, error) {
	top, err := b.Hierarchy()
	if err != nil {
		return nil, err
	}
	b.layers = b.layers[:len(b.layers)-1]

	return top, nil
}

// Copy returns a Builder with the same layers. Layers are shared.
func (b *Builder) Copy() *Builder {
	c := *b
	c.layers = append([]backends.Container(nil), b.layers...)

	return &c
}

// Close closes the top layer, which closes every layer below it.
func (b *Builder) Close() error {
	top, err := b.Hierarchy()
	if err != nil {
		return nil
	}
	b.layers = nil

	return top.Close()
}

// FromConfig builds the hierarchy described by cfg. On failure the layers
// built so far are closed.
func FromConfig(c *compiler.Compiler, cfg BackendConfig, registry *Registry, logger logging.Logger) (backends.Container, error) {
	b := NewBuilder(c, registry, cfg.Resolve, logger)
	if err := b.AddConfig(cfg.Containers); err != nil {
		if cerr := b.Close(); cerr != nil {
			b.logger.Warn(context.Background(), cerr, "cannot close partial hierarchy")
		}

		return nil, err
	}

	return b.Hierarchy()
}
