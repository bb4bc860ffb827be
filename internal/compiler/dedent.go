package compiler

import (
	"fmt"
	"strings"

	"github.com/conneroisu/starhp/internal/errors"
)

// Dedenter strips the common indentation of code sections before handing
// them to the wrapped builder.
type Dedenter struct {
	Builder Builder
}

// NewDedenter wraps builder.
func NewDedenter(builder Builder) *Dedenter {
	return &Dedenter{Builder: builder}
}

func (d *Dedenter) AddText(text string, index, lineOffset int) {
	d.Builder.AddText(text, index, lineOffset)
}

func (d *Dedenter) AddCode(code string, index, lineOffset int) error {
	dedented, err := Dedent(code)
	if err != nil {
		if ie, ok := err.(*IndentationError); ok {
			return errors.NewCompileError(errors.ErrCodeIndentation,
				fmt.Sprintf("inconsistent indentation at line %d of section", ie.Line),
				index, lineOffset+ie.Line, nil).
				WithContext("section_line", ie.Line)
		}

		return err
	}

	return d.Builder.AddCode(dedented, index, lineOffset)
}

func (d *Dedenter) Code(origin Origin) (Code, error) {
	return d.Builder.Code(origin)
}

func (d *Dedenter) Copy() Builder {
	return &Dedenter{Builder: d.Builder.Copy()}
}

// IndentationError reports a line not starting with the expected prefix.
// Line is 1-based within the section.
type IndentationError struct {
	Line     int
	Expected string
}

func (e *IndentationError) Error() string {
	return fmt.Sprintf("line %d does not start with indentation %q", e.Line, e.Expected)
}

// Dedent removes the indentation of the first line that is neither blank
// nor a comment from every such line. Blank and comment lines are kept
// as they are.
func Dedent(code string) (string, error) {
	lines := strings.Split(code, "\n")

	indent, found := "", false
	for _, line := range lines {
		if skipIndentCheck(line) {
			continue
		}
		indent = line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		found = true

		break
	}
	if !found || indent == "" {
		return code, nil
	}

	for i, line := range lines {
		if skipIndentCheck(line) {
			continue
		}
		if !strings.HasPrefix(line, indent) {
			return "", &IndentationError{Line: i + 1, Expected: indent}
		}
		lines[i] = line[len(indent):]
	}

	return strings.Join(lines, "\n"), nil
}

func skipIndentCheck(line string) bool {
	trimmed := strings.TrimLeft(line, " \t\r\f\v")

	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}
