package compiler

import (
	"iter"
	"slices"

	"go.starlark.net/starlark"
)

// GenericBuilder keeps every code section as an independent chunk. Chunks
// run one after another against the same module globals, so names bound in
// one section are visible in the following ones.
type GenericBuilder struct {
	sections []section
}

// NewGenericBuilder returns an empty GenericBuilder.
func NewGenericBuilder() *GenericBuilder {
	return &GenericBuilder{}
}

// AddText stores text verbatim, empty strings included.
func (b *GenericBuilder) AddText(text string, index, lineOffset int) {
	b.sections = append(b.sections, section{Content: text, Index: index, LineOffset: lineOffset})
}

// AddCode validates code and stores it as the next chunk.
func (b *GenericBuilder) AddCode(code string, index, lineOffset int) error {
	if _, err := checkSection(code, index, lineOffset); err != nil {
		return err
	}
	b.sections = append(b.sections, section{IsCode: true, Content: code, Index: index, LineOffset: lineOffset})

	return nil
}

// Code finalizes the accumulated sections.
func (b *GenericBuilder) Code(origin Origin) (Code, error) {
	return &GenericCode{sections: slices.Clone(b.sections), origin: origin}, nil
}

// Copy returns an independent builder with the same sections.
func (b *GenericBuilder) Copy() Builder {
	return &GenericBuilder{sections: slices.Clone(b.sections)}
}

// GenericCode is a sequence of code chunks and literal strings.
type GenericCode struct {
	sections []section
	origin   Origin
}

func (c *GenericCode) Origin() Origin {
	return c.origin
}

func (c *GenericCode) Equal(other Code) bool {
	o, ok := other.(*GenericCode)
	if !ok {
		return false
	}

	return slices.Equal(c.sections, o.sections) && c.origin.Equal(o.origin)
}

// Execute runs each chunk as a continuation of the module held in bindings.
// Chunks are parsed per execution because resolving them depends on the
// names already present in bindings.
func (c *GenericCode) Execute(bindings starlark.StringDict) iter.Seq2[string, error] {
	if bindings == nil {
		bindings = starlark.StringDict{}
	}
	filename := filenameOf(c.origin)

	return singlePass(func(out *output) {
		thread := out.thread(c.origin)
		prepare(bindings, c.origin, out)

		for _, s := range c.sections {
			if !s.IsCode {
				if err := out.emit(thread, s.Content); err != nil {
					return
				}

				continue
			}

			f, err := parseSection(filename, s.Content, s.LineOffset)
			if err != nil {
				out.fail(syntaxError(err, s.Index, s.LineOffset))

				return
			}
			if err := starlark.ExecREPLChunk(f, thread, bindings); err != nil {
				out.fail(err)

				return
			}
			if out.stopped {
				return
			}
		}
	})
}
