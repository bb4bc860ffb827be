package compiler

import (
	stderrors "errors"
	"strings"

	"go.starlark.net/resolve"
	"go.starlark.net/syntax"

	"github.com/conneroisu/starhp/internal/errors"
)

// Builder accumulates the sections of one document and turns them into a
// Code. Builders are single use; Copy gives an independent builder with the
// same accumulated state.
type Builder interface {
	AddText(text string, section, lineOffset int)
	AddCode(code string, section, lineOffset int) error
	Code(origin Origin) (Code, error)
	Copy() Builder
}

// fileOptions enables the dialect used by embedded code: top level
// control flow and rebinding of globals are needed since sections share
// one module.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

const stringFilename = "<string>"

// section is one entry of a document's intermediate representation.
type section struct {
	IsCode     bool
	Content    string
	Index      int
	LineOffset int
}

func filenameOf(origin Origin) string {
	if origin.Path != "" {
		return origin.Path
	}

	return stringFilename
}

// parseSection parses code with lineOffset leading newlines so reported
// positions are relative to the whole document.
func parseSection(filename, code string, lineOffset int) (*syntax.File, error) {
	src := strings.Repeat("\n", lineOffset) + code

	return fileOptions.Parse(filename, src, 0)
}

// checkSection validates code the way every builder does before storing it.
func checkSection(code string, index, lineOffset int) (*syntax.File, error) {
	if i := strings.IndexByte(code, 0); i >= 0 {
		line := lineOffset + 1 + strings.Count(code[:i], "\n")

		return nil, errors.NewCompileError(errors.ErrCodeNullByte,
			"source code cannot contain null bytes", index, line, nil)
	}

	f, err := parseSection(stringFilename, code, lineOffset)
	if err != nil {
		return nil, syntaxError(err, index, lineOffset)
	}

	return f, nil
}

// errorPosition extracts the position reported by the parser or resolver.
func errorPosition(err error) (line, column int, msg string, ok bool) {
	var se syntax.Error
	var list resolve.ErrorList
	switch {
	case stderrors.As(err, &se):
		return int(se.Pos.Line), int(se.Pos.Col), se.Msg, true
	case stderrors.As(err, &list) && len(list) > 0:
		return int(list[0].Pos.Line), int(list[0].Pos.Col), list[0].Msg, true
	}

	return 0, 0, err.Error(), false
}

// syntaxError converts parser and resolver failures into compile errors.
func syntaxError(err error, index, lineOffset int) error {
	line, column, msg, ok := errorPosition(err)
	if !ok {
		line = lineOffset + 1
	}

	ce := errors.NewCompileError(errors.ErrCodeSyntax, msg, index, line, nil)
	ce.Column = column

	return ce
}
