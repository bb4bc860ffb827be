package compiler

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/conneroisu/starhp/internal/errors"
)

// Builder strategies.
const (
	StrategyGeneric = "generic"
	StrategyUnified = "unified"
)

// Options selects the parser delimiters and the builder.
type Options struct {
	Start    string
	End      string
	Strategy string
	Dedent   bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Start:    DefaultStart,
		End:      DefaultEnd,
		Strategy: StrategyGeneric,
		Dedent:   true,
	}
}

// Compiler binds a Parser to a prototype Builder. The prototype is never
// used directly; each compilation works on a copy.
type Compiler struct {
	parser  Parser
	builder Builder
}

// New creates a Compiler.
func New(parser Parser, builder Builder) *Compiler {
	return &Compiler{parser: parser, builder: builder}
}

// NewFromOptions creates a Compiler from opts.
func NewFromOptions(opts Options) (*Compiler, error) {
	parser, err := NewRegexParser(opts.Start, opts.End)
	if err != nil {
		return nil, err
	}

	var builder Builder
	switch opts.Strategy {
	case "", StrategyGeneric:
		builder = NewGenericBuilder()
	case StrategyUnified:
		builder = NewUnifiedBuilder()
	default:
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown compiler strategy %q", opts.Strategy)).
			WithContext("field", "compiler.strategy")
	}
	if opts.Dedent {
		builder = NewDedenter(builder)
	}

	return New(parser, builder), nil
}

// Parser returns the parser of the compiler.
func (c *Compiler) Parser() Parser {
	return c.parser
}

// Builder returns a copy of the prototype builder.
func (c *Compiler) Builder() Builder {
	return c.builder.Copy()
}

// CompileString compiles source. A leading "#!" line is dropped and line
// numbers still refer to the unmodified input.
func (c *Compiler) CompileString(source string, origin Origin) (Code, error) {
	if !strings.HasPrefix(source, "#!") {
		return c.compile(source, origin, 0)
	}
	_, rest, _ := strings.Cut(source, "\n")

	return c.compile(rest, origin, 1)
}

// CompileReader reads r to the end and compiles it like CompileString.
func (c *Compiler) CompileReader(r io.Reader, origin Origin) (Code, error) {
	var sb strings.Builder
	if _, err := io.Copy(&sb, r); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeRead, "cannot read source", err)
	}

	return c.CompileString(sb.String(), origin)
}

func (c *Compiler) compile(source string, origin Origin, offset int) (Code, error) {
	builder := c.Builder()
	err := Build(c.parser, source, builder, offset)
	if err == nil {
		var code Code
		code, err = builder.Code(origin)
		if err == nil {
			return code, nil
		}
	}

	var ee *errors.EngineError
	if stderrors.As(err, &ee) && ee.FilePath == "" && origin.Path != "" {
		ee.FilePath = origin.Path
	}

	return nil, err
}
