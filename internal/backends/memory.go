package backends

import (
	"iter"
	"maps"
	"slices"

	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
)

// HashMap is a container of Code compiled ahead of time. Its content never
// changes after construction.
type HashMap struct {
	codes map[string]compiler.Code
}

var _ Container = (*HashMap)(nil)

// NewHashMap wraps codes. The map must not be modified afterwards.
func NewHashMap(codes map[string]compiler.Code) *HashMap {
	if codes == nil {
		codes = map[string]compiler.Code{}
	}

	return &HashMap{codes: codes}
}

// CompileHashMap compiles every document of sources, keyed by name.
func CompileHashMap(c *compiler.Compiler, sources map[string]string) (*HashMap, error) {
	codes := make(map[string]compiler.Code, len(sources))
	for _, name := range slices.Sorted(maps.Keys(sources)) {
		code, err := c.CompileString(sources[name], compiler.Origin{Name: "__main__", Path: name})
		if err != nil {
			return nil, err
		}
		codes[name] = code
	}

	return NewHashMap(codes), nil
}

// CopyHashMap drains container into a HashMap. The container is closed only
// after every entry was copied; on failure it is left open for the caller.
func CopyHashMap(container Container) (*HashMap, error) {
	codes := map[string]compiler.Code{}
	for name, err := range container.Names() {
		if err != nil {
			return nil, err
		}
		code, err := Load(container, name)
		if err != nil {
			return nil, err
		}
		codes[name] = code
	}
	if err := container.Close(); err != nil {
		return nil, err
	}

	return NewHashMap(codes), nil
}

func (m *HashMap) Get(name string) (Source, error) {
	code, ok := m.codes[name]
	if !ok {
		return nil, errors.NewNotFoundError(name, nil)
	}

	return NewCodeSource(code), nil
}

func (m *HashMap) Contains(name string) bool {
	_, ok := m.codes[name]

	return ok
}

func (m *HashMap) Names() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, name := range slices.Sorted(maps.Keys(m.codes)) {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (m *HashMap) Len() (int, error) {
	return len(m.codes), nil
}

func (m *HashMap) Close() error {
	return nil
}
