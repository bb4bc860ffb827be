//go:build property

package compiler

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestParserProperties validates reconstruction and line bookkeeping of the parser
func TestParserProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234) // For reproducible results
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	parser, err := NewRegexParser("", "")
	if err != nil {
		t.Fatal(err)
	}

	// Property: concatenating segments with their delimiters gives back the document
	properties.Property("segments reconstruct the document", prop.ForAll(
		func(texts, codes []string) bool {
			var doc strings.Builder
			for i, text := range texts {
				doc.WriteString(text)
				if i < len(codes) {
					doc.WriteString("<?star " + codes[i] + " ?>")
				}
			}

			var rebuilt strings.Builder
			var prev *Segment
			for seg := range parser.Parse(doc.String(), 0) {
				if prev != nil {
					if prev.IsCode {
						rebuilt.WriteString(" ?>")
					} else {
						rebuilt.WriteString("<?star ")
					}
				}
				rebuilt.WriteString(seg.Content)
				prev = &seg
			}

			return rebuilt.String() == doc.String()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	// Property: line offsets never decrease and count the newlines before each segment
	properties.Property("line offsets track consumed newlines", prop.ForAll(
		func(lines []string) bool {
			doc := strings.Join(lines, "\n<?star x ?>\n")

			consumed := 0
			pos := 0
			for seg := range parser.Parse(doc, 0) {
				idx := strings.Index(doc[pos:], seg.Content)
				if idx < 0 {
					return false
				}
				consumed += strings.Count(doc[pos:pos+idx], "\n")
				if seg.LineOffset != consumed {
					return false
				}
				consumed += strings.Count(seg.Content, "\n")
				pos += idx + len(seg.Content)
			}

			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	// Property: Dedent of a uniformly indented block strips exactly the prefix
	properties.Property("dedent removes a uniform prefix", prop.ForAll(
		func(lines []string, width int) bool {
			prefix := strings.Repeat(" ", width)
			indented := make([]string, len(lines))
			for i, line := range lines {
				indented[i] = prefix + "x" + line
			}

			got, err := Dedent(strings.Join(indented, "\n"))
			if err != nil {
				return false
			}

			for i := range lines {
				lines[i] = "x" + lines[i]
			}

			return got == strings.Join(lines, "\n")
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
