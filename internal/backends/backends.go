// Package backends provides the storage layer documents are compiled from:
// sources wrapping one retrievable Code and containers mapping names to
// sources.
package backends

import (
	"iter"
	"regexp"

	"github.com/conneroisu/starhp/internal/compiler"
)

// Source wraps one retrievable Code. Close is idempotent.
type Source interface {
	Code() (compiler.Code, error)
	Close() error
}

// Timestamps holds file times in nanoseconds since the epoch. Zero means
// the time is not available.
type Timestamps struct {
	Mtime int64 `json:"mtime" yaml:"mtime"`
	Ctime int64 `json:"ctime" yaml:"ctime"`
	Atime int64 `json:"atime" yaml:"atime"`
}

// TimestampedSource is a Source with modification, change and access times.
type TimestampedSource interface {
	Source
	Mtime() (int64, error)
	Ctime() (int64, error)
	Atime() (int64, error)
	Info() (Timestamps, error)
}

// DirectSource is a Source with access to the raw document text.
type DirectSource interface {
	Source
	Text() (string, error)
	Size() (int64, error)
}

// Container maps names to Sources. Every Get returns an independent Source
// the caller has to close.
type Container interface {
	Get(name string) (Source, error)
	Contains(name string) bool
	Names() iter.Seq2[string, error]
	Len() (int, error)
	Close() error
}

// TimestampedContainer gives access to source times without opening them.
type TimestampedContainer interface {
	Container
	Mtime(name string) (int64, error)
	Ctime(name string) (int64, error)
	Atime(name string) (int64, error)
	Info(name string) (Timestamps, error)
}

// Search yields the names of container that pattern matches at their start.
func Search(container Container, pattern *regexp.Regexp) iter.Seq2[string, error] {
	return Filter(container.Names(), pattern)
}

// Filter yields the names of seq that pattern matches at their start. The
// first error ends the sequence.
func Filter(seq iter.Seq2[string, error], pattern *regexp.Regexp) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for name, err := range seq {
			if err != nil {
				yield("", err)

				return
			}
			if loc := pattern.FindStringIndex(name); loc != nil && loc[0] == 0 {
				if !yield(name, nil) {
					return
				}
			}
		}
	}
}

// Load returns the Code stored under name, closing the source afterwards.
func Load(container Container, name string) (compiler.Code, error) {
	source, err := container.Get(name)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	return source.Code()
}

// CodeSource is a Source holding an already compiled Code.
type CodeSource struct {
	code compiler.Code
}

// NewCodeSource wraps code.
func NewCodeSource(code compiler.Code) *CodeSource {
	return &CodeSource{code: code}
}

func (s *CodeSource) Code() (compiler.Code, error) {
	return s.code, nil
}

func (s *CodeSource) Close() error {
	return nil
}
