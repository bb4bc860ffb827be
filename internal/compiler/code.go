package compiler

import (
	stderrors "errors"
	"fmt"
	"iter"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/conneroisu/starhp/internal/errors"
)

// Code is an immutable compiled document.
type Code interface {
	// Execute runs the document against bindings, producing literal text
	// and echoed output in document order. Each returned sequence can be
	// ranged over once.
	Execute(bindings starlark.StringDict) iter.Seq2[string, error]
	Origin() Origin
	Equal(other Code) bool
}

// Origin describes where a Code came from.
type Origin struct {
	Name        string
	Path        string
	HasLocation bool
	Cached      string
	Parent      string
	Loader      Loader
}

// FileOrigin returns the origin of a document read from path.
func FileOrigin(path string) Origin {
	return Origin{
		Name:        "__main__",
		Path:        path,
		HasLocation: true,
		Loader:      FileLoader{Path: path},
	}
}

// StringOrigin returns the origin of a document without a physical location.
func StringOrigin() Origin {
	return Origin{Name: "__main__"}
}

// Equal compares origins field by field; loaders compare by kind and locator.
func (o Origin) Equal(other Origin) bool {
	if o.Name != other.Name || o.Path != other.Path || o.HasLocation != other.HasLocation ||
		o.Cached != other.Cached || o.Parent != other.Parent {
		return false
	}
	if o.Loader == nil || other.Loader == nil {
		return o.Loader == nil && other.Loader == nil
	}

	return o.Loader.Kind() == other.Loader.Kind() &&
		slices.Equal(o.Loader.Locator(), other.Loader.Locator())
}

// Loader gives embedded code access to the text of its own document.
type Loader interface {
	Kind() string
	// Locator is the persisted form of the loader.
	Locator() []string
	Source() (string, error)
}

// LoaderDecoder rebuilds a Loader from its locator.
type LoaderDecoder func(locator []string) (Loader, error)

var (
	loaderMu    sync.RWMutex
	loaderKinds = map[string]LoaderDecoder{
		"file": func(locator []string) (Loader, error) {
			if len(locator) != 1 {
				return nil, fmt.Errorf("file loader wants 1 locator field, got %d", len(locator))
			}

			return FileLoader{Path: locator[0]}, nil
		},
	}
)

// RegisterLoader makes loaders of kind persistable.
func RegisterLoader(kind string, decode LoaderDecoder) {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	loaderKinds[kind] = decode
}

func lookupLoader(kind string) (LoaderDecoder, bool) {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	decode, ok := loaderKinds[kind]

	return decode, ok
}

// FileLoader reads documents from the filesystem.
type FileLoader struct {
	Path string
}

func (l FileLoader) Kind() string { return "file" }

func (l FileLoader) Locator() []string { return []string{l.Path} }

func (l FileLoader) Source() (string, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// loaderValue exposes a Loader to embedded code as __loader__.
type loaderValue struct {
	loader Loader
}

var _ starlark.HasAttrs = loaderValue{}

func (v loaderValue) String() string {
	return fmt.Sprintf("<loader %s %s>", v.loader.Kind(), strings.Join(v.loader.Locator(), ":"))
}
func (v loaderValue) Type() string { return "loader" }
func (v loaderValue) Freeze() {}
func (v loaderValue) Truth() starlark.Bool { return starlark.True }
func (v loaderValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: loader") }
func (v loaderValue) AttrNames() []string { return []string{"get_source", "kind"} }

func (v loaderValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "kind":
		return starlark.String(v.loader.Kind()), nil
	case "get_source":
		return starlark.NewBuiltin("get_source", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			text, err := v.loader.Source()
			if err != nil {
				return nil, err
			}

			return starlark.String(text), nil
		}), nil
	}

	return nil, nil
}

func stringOrNone(s string) starlark.Value {
	if s == "" {
		return starlark.None
	}

	return starlark.String(s)
}

// errStopped aborts execution once the consumer stopped ranging.
var errStopped = stderrors.New("output consumer stopped")

// output forwards produced chunks to the consumer of an Execute sequence.
type output struct {
	yield   func(string, error) bool
	stopped bool
}

func (o *output) emit(thread *starlark.Thread, s string) error {
	if o.stopped {
		return errStopped
	}
	if s == "" {
		return nil
	}
	if !o.yield(s, nil) {
		o.stopped = true
		thread.Cancel(errStopped.Error())

		return errStopped
	}

	return nil
}

// fail reports err to the consumer unless it already stopped.
func (o *output) fail(err error) {
	if o.stopped {
		return
	}
	o.stopped = true
	o.yield("", executionError(err))
}

func (o *output) builtin(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		var sb strings.Builder
		for _, arg := range args {
			if s, ok := starlark.AsString(arg); ok {
				sb.WriteString(s)
			} else {
				sb.WriteString(arg.String())
			}
		}
		if err := o.emit(thread, sb.String()); err != nil {
			return nil, err
		}

		return starlark.None, nil
	})
}

func (o *output) thread(origin Origin) *starlark.Thread {
	return &starlark.Thread{
		Name: origin.Name,
		Print: func(thread *starlark.Thread, msg string) {
			_ = o.emit(thread, msg+"\n")
		},
	}
}

// prepare stores the module identity entries and output builtins.
func prepare(bindings starlark.StringDict, origin Origin, out *output) {
	file := starlark.Value(starlark.None)
	if origin.HasLocation {
		file = starlark.String(origin.Path)
	}
	loader := starlark.Value(starlark.None)
	if origin.Loader != nil {
		loader = loaderValue{loader: origin.Loader}
	}

	bindings["__name__"] = starlark.String(origin.Name)
	bindings["__file__"] = file
	bindings["__cached__"] = stringOrNone(origin.Cached)
	bindings["__package__"] = starlark.String(origin.Parent)
	bindings["__loader__"] = loader
	bindings["__spec__"] = starlarkstruct.FromStringDict(starlark.String("module_spec"), starlark.StringDict{
		"name":         starlark.String(origin.Name),
		"origin":       stringOrNone(origin.Path),
		"has_location": starlark.Bool(origin.HasLocation),
		"cached":       stringOrNone(origin.Cached),
		"parent":       starlark.String(origin.Parent),
		"loader":       loader,
	})
	bindings["echo"] = out.builtin("echo")
	bindings[emitName] = out.builtin(emitName)
}

// singlePass wraps run so the resulting sequence refuses a second range.
func singlePass(run func(out *output)) iter.Seq2[string, error] {
	var used atomic.Bool

	return func(yield func(string, error) bool) {
		if used.Swap(true) {
			yield("", errors.ErrExhausted)

			return
		}
		run(&output{yield: yield})
	}
}

func executionError(err error) error {
	var ee *errors.EngineError
	if stderrors.As(err, &ee) {
		return err
	}

	result := errors.NewExecutionError("execution failed", err)

	var evalErr *starlark.EvalError
	var list resolve.ErrorList
	var se syntax.Error
	switch {
	case stderrors.As(err, &evalErr):
		result.WithContext("backtrace", evalErr.Backtrace())
		for i := range len(evalErr.CallStack) {
			pos := evalErr.CallStack.At(i).Pos
			if pos.Line > 0 {
				result.WithLocation(pos.Filename(), int(pos.Line), int(pos.Col))

				break
			}
		}
	case stderrors.As(err, &list) && len(list) > 0:
		pos := list[0].Pos
		result.WithLocation(pos.Filename(), int(pos.Line), int(pos.Col))
	case stderrors.As(err, &se):
		result.WithLocation(se.Pos.Filename(), int(se.Pos.Line), int(se.Pos.Col))
	}

	return result
}
