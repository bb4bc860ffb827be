package compiler

import (
	"bytes"
	"fmt"
	"iter"
	"slices"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/conneroisu/starhp/internal/errors"
)

// emitName is the builtin text sections are turned into calls of.
const emitName = "__emit__"

// UnifiedBuilder synthesizes a single program in which text sections become
// calls to __emit__ placed at the line the text appears on.
type UnifiedBuilder struct {
	sections []section
	hasText  bool
}

// NewUnifiedBuilder returns an empty UnifiedBuilder.
func NewUnifiedBuilder() *UnifiedBuilder {
	return &UnifiedBuilder{}
}

func (b *UnifiedBuilder) AddText(text string, index, lineOffset int) {
	b.sections = append(b.sections, section{Content: text, Index: index, LineOffset: lineOffset})
	b.hasText = true
}

func (b *UnifiedBuilder) AddCode(code string, index, lineOffset int) error {
	if _, err := checkSection(code, index, lineOffset); err != nil {
		return err
	}
	b.sections = append(b.sections, section{IsCode: true, Content: code, Index: index, LineOffset: lineOffset})

	return nil
}

// Code compiles all sections into one program.
func (b *UnifiedBuilder) Code(origin Origin) (Code, error) {
	program, free, err := compileUnified(filenameOf(origin), b.sections, b.hasText)
	if err != nil {
		return nil, err
	}

	return &UnifiedCode{
		sections: slices.Clone(b.sections),
		program:  program,
		free:     free,
		origin:   origin,
	}, nil
}

func (b *UnifiedBuilder) Copy() Builder {
	return &UnifiedBuilder{sections: slices.Clone(b.sections), hasText: b.hasText}
}

// compileUnified parses the sections again from scratch since resolving a
// syntax tree annotates it in place.
// The returned names are the free names bindings have to provide.
func compileUnified(filename string, sections []section, hasText bool) (*starlark.Program, []string, error) {
	var stmts []syntax.Stmt
	last := 0
	for _, s := range sections {
		last = s.LineOffset + 1
		if !s.IsCode {
			stmts = append(stmts, emitStmt(&filename, s.Content, last))

			continue
		}
		f, err := parseSection(filename, s.Content, s.LineOffset)
		if err != nil {
			return nil, nil, syntaxError(err, s.Index, s.LineOffset)
		}
		stmts = append(stmts, f.Stmts...)
	}

	// keep the program a producer of output even without text sections
	if !hasText {
		pos := syntax.MakePosition(&filename, int32(last+1), 1)
		stmts = append(stmts, &syntax.IfStmt{
			If:   pos,
			Cond: &syntax.Ident{NamePos: pos, Name: "False"},
			True: []syntax.Stmt{emitStmt(&filename, "", last+1)},
		})
	}

	file := &syntax.File{Path: filename, Stmts: stmts, Options: fileOptions}
	program, err := starlark.FileProgram(file, func(name string) bool {
		return !starlark.Universe.Has(name)
	})
	if err != nil {
		index, offset := sectionAt(sections, err)

		return nil, nil, syntaxError(err, index, offset)
	}

	return program, freeNames(stmts), nil
}

// freeNames lists the predeclared names a resolved program refers to.
func freeNames(stmts []syntax.Stmt) []string {
	var names []string
	for _, stmt := range stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			if id, ok := n.(*syntax.Ident); ok {
				if b, ok := id.Binding.(*resolve.Binding); ok && b.Scope == resolve.Predeclared {
					names = append(names, id.Name)
				}
			}

			return true
		})
	}
	slices.Sort(names)

	return slices.Compact(names)
}

func emitStmt(filename *string, text string, line int) syntax.Stmt {
	pos := syntax.MakePosition(filename, int32(line), 1)

	return &syntax.ExprStmt{X: &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: emitName},
		Lparen: pos,
		Args: []syntax.Expr{&syntax.Literal{
			Token:    syntax.STRING,
			TokenPos: pos,
			Raw:      syntax.Quote(text, false),
			Value:    text,
		}},
		Rparen: pos,
	}}
}

// sectionAt finds the code section a resolver error points into.
func sectionAt(sections []section, err error) (int, int) {
	line, _, _, _ := errorPosition(err)

	index, offset := 0, 0
	for _, s := range sections {
		if s.IsCode && s.LineOffset+1 <= line {
			index, offset = s.Index, s.LineOffset
		}
	}

	return index, offset
}

// UnifiedCode is a document compiled into a single program.
type UnifiedCode struct {
	sections []section
	program  *starlark.Program
	free     []string
	origin   Origin
}

func (c *UnifiedCode) Origin() Origin {
	return c.origin
}

func (c *UnifiedCode) Equal(other Code) bool {
	o, ok := other.(*UnifiedCode)
	if !ok {
		return false
	}

	return slices.Equal(c.sections, o.sections) && c.origin.Equal(o.origin)
}

// Execute initializes the program with bindings as predeclared names and
// writes the resulting module globals back into bindings.
func (c *UnifiedCode) Execute(bindings starlark.StringDict) iter.Seq2[string, error] {
	if bindings == nil {
		bindings = starlark.StringDict{}
	}

	return singlePass(func(out *output) {
		thread := out.thread(c.origin)
		prepare(bindings, c.origin, out)
		for _, name := range c.free {
			if _, ok := bindings[name]; !ok {
				out.fail(errors.NewExecutionError(fmt.Sprintf("undefined: %s", name), nil))

				return
			}
		}

		globals, err := c.program.Init(thread, bindings)
		for name, value := range globals {
			bindings[name] = value
		}
		if err != nil {
			out.fail(err)
		}
	})
}

func (c *UnifiedCode) encodeProgram() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.program.Write(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
