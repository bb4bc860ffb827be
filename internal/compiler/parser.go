package compiler

import (
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/conneroisu/starhp/internal/errors"
)

// Default delimiters framing a code section.
const (
	DefaultStart = `<\?star\s`
	DefaultEnd   = `\s\?>`
)

// Segment is one contiguous run of text or code found by a Parser.
type Segment struct {
	Content string
	IsCode  bool
	// LineOffset counts the newlines consumed before the segment's first line.
	LineOffset int
}

// Parser splits a document into alternating text and code segments.
type Parser interface {
	Parse(source string, lineOffset int) iter.Seq[Segment]
}

// RegexParser identifies the start and end of code sections with regular
// expressions. The text matched by a delimiter is discarded.
type RegexParser struct {
	Start *regexp.Regexp
	End   *regexp.Regexp
}

// NewRegexParser compiles the delimiter patterns.
func NewRegexParser(start, end string) (*RegexParser, error) {
	if start == "" {
		start = DefaultStart
	}
	if end == "" {
		end = DefaultEnd
	}

	startRe, err := compileDelimiter("start", start)
	if err != nil {
		return nil, err
	}
	endRe, err := compileDelimiter("end", end)
	if err != nil {
		return nil, err
	}

	return &RegexParser{Start: startRe, End: endRe}, nil
}

func compileDelimiter(field, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid %s delimiter %q: %v", field, pattern, err)).
			WithContext("field", "parser."+field)
	}
	// a delimiter matching nothing would never advance the parser
	if re.MatchString("") {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("%s delimiter %q matches the empty string", field, pattern)).
			WithContext("field", "parser."+field)
	}

	return re, nil
}

// Equal reports whether both parsers use the same patterns.
func (p *RegexParser) Equal(other *RegexParser) bool {
	return p.Start.String() == other.Start.String() && p.End.String() == other.End.String()
}

// Parse yields the sections of source starting in text mode. A code section
// missing its end delimiter runs to the end of the document. The tail after
// the last delimiter is always yielded, even when empty.
func (p *RegexParser) Parse(source string, lineOffset int) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		pos := 0
		isCode := false
		for {
			re := p.Start
			if isCode {
				re = p.End
			}

			loc := re.FindStringIndex(source[pos:])
			if loc == nil {
				yield(Segment{Content: source[pos:], IsCode: isCode, LineOffset: lineOffset})
				return
			}

			start, end := pos+loc[0], pos+loc[1]
			if !yield(Segment{Content: source[pos:start], IsCode: isCode, LineOffset: lineOffset}) {
				return
			}
			lineOffset += strings.Count(source[pos:end], "\n")
			pos = end
			isCode = !isCode
		}
	}
}

// Build feeds every segment of source to builder, numbering sections from 0.
func Build(parser Parser, source string, builder Builder, lineOffset int) error {
	section := 0
	for seg := range parser.Parse(source, lineOffset) {
		if seg.IsCode {
			if err := builder.AddCode(seg.Content, section, seg.LineOffset); err != nil {
				return err
			}
		} else {
			builder.AddText(seg.Content, section, seg.LineOffset)
		}
		section++
	}

	return nil
}
