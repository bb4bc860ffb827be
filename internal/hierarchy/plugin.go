package hierarchy

import (
	"fmt"
	"plugin"
	"strings"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/errors"
)

// splitPluginName splits "path/to/file.so:Symbol" at the last colon.
func splitPluginName(name string) (path, symbol string, err error) {
	i := strings.LastIndex(name, ":")
	if i <= 0 || i == len(name)-1 {
		return "", "", errors.NewConfigError(errors.ErrCodeUnknownLayer,
			fmt.Sprintf("container %q is not of the form file:Symbol", name))
	}

	return name[:i], name[i+1:], nil
}

func loadPlugin(name string) (Factory, error) {
	path, symbol, err := splitPluginName(name)
	if err != nil {
		return nil, err
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeUnknownLayer,
			fmt.Sprintf("cannot open plugin %q: %v", path, err))
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeUnknownLayer,
			fmt.Sprintf("plugin %q has no symbol %q", path, symbol))
	}

	return asFactory(name, sym)
}

// asFactory accepts a Factory value, a pointer to one, or a plain function
// with the factory signature.
func asFactory(name string, sym any) (Factory, error) {
	switch f := sym.(type) {
	case Factory:
		return f, nil
	case *Factory:
		if f != nil && *f != nil {
			return *f, nil
		}
	case func(map[string]any, Below) (backends.Container, error):
		return f, nil
	case *func(map[string]any, Below) (backends.Container, error):
		if f != nil && *f != nil {
			return *f, nil
		}
	}

	return nil, errors.NewConfigError(errors.ErrCodeUnknownLayer,
		fmt.Sprintf("symbol %q is a %T, not a container factory", name, sym))
}
