package compiler

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.starlark.net/starlark"

	"github.com/conneroisu/starhp/internal/errors"
)

// codecVersion changes whenever the persisted layout does.
const codecVersion = 1

const (
	kindGeneric = "generic"
	kindUnified = "unified"
)

type encodedOrigin struct {
	Name          string   `msgpack:"name"`
	Path          string   `msgpack:"path"`
	HasLocation   bool     `msgpack:"has_location"`
	Cached        string   `msgpack:"cached"`
	Parent        string   `msgpack:"parent"`
	LoaderKind    string   `msgpack:"loader_kind,omitempty"`
	LoaderLocator []string `msgpack:"loader_locator,omitempty"`
}

type encodedSection struct {
	IsCode     bool   `msgpack:"code"`
	Content    string `msgpack:"content"`
	Index      int    `msgpack:"index"`
	LineOffset int    `msgpack:"line_offset"`
}

type encodedCode struct {
	Version  int              `msgpack:"version"`
	Kind     string           `msgpack:"kind"`
	Origin   encodedOrigin    `msgpack:"origin"`
	Sections []encodedSection `msgpack:"sections"`
	Program  []byte           `msgpack:"program,omitempty"`
	Free     []string         `msgpack:"free,omitempty"`
}

// Marshal serializes code. Only Code produced by this package and origins
// whose loader kind is registered can be serialized.
func Marshal(code Code) ([]byte, error) {
	enc := encodedCode{Version: codecVersion}

	origin, err := encodeOrigin(code.Origin())
	if err != nil {
		return nil, err
	}
	enc.Origin = origin

	switch c := code.(type) {
	case *GenericCode:
		enc.Kind = kindGeneric
		enc.Sections = encodeSections(c.sections)
	case *UnifiedCode:
		enc.Kind = kindUnified
		enc.Sections = encodeSections(c.sections)
		enc.Free = c.free
		program, err := c.encodeProgram()
		if err != nil {
			return nil, errors.NewSerializationError(errors.ErrCodeEncode, "cannot serialize program", err)
		}
		enc.Program = program
	default:
		return nil, errors.NewSerializationError(errors.ErrCodeEncode,
			fmt.Sprintf("cannot serialize code of type %T", code), nil)
	}

	data, err := msgpack.Marshal(&enc)
	if err != nil {
		return nil, errors.NewSerializationError(errors.ErrCodeEncode, "cannot encode code", err)
	}

	return data, nil
}

// Unmarshal reconstructs a Code from data written by Marshal. Sections are
// validated again so data that no longer compiles fails here.
func Unmarshal(data []byte) (Code, error) {
	var enc encodedCode
	if err := msgpack.Unmarshal(data, &enc); err != nil {
		return nil, errors.NewSerializationError(errors.ErrCodeDecode, "cannot decode code", err)
	}
	if enc.Version != codecVersion {
		return nil, errors.NewSerializationError(errors.ErrCodeDecode,
			fmt.Sprintf("unsupported code version %d", enc.Version), nil)
	}

	origin, err := decodeOrigin(enc.Origin)
	if err != nil {
		return nil, err
	}
	sections := decodeSections(enc.Sections)
	for _, s := range sections {
		if !s.IsCode {
			continue
		}
		if _, err := checkSection(s.Content, s.Index, s.LineOffset); err != nil {
			return nil, errors.NewSerializationError(errors.ErrCodeDecode, "stored section does not compile", err)
		}
	}

	switch enc.Kind {
	case kindGeneric:
		return &GenericCode{sections: sections, origin: origin}, nil
	case kindUnified:
		program, err := starlark.CompiledProgram(bytes.NewReader(enc.Program))
		if err != nil {
			return nil, errors.NewSerializationError(errors.ErrCodeDecode, "cannot load program", err)
		}

		return &UnifiedCode{sections: sections, program: program, free: enc.Free, origin: origin}, nil
	default:
		return nil, errors.NewSerializationError(errors.ErrCodeDecode,
			fmt.Sprintf("unknown code kind %q", enc.Kind), nil)
	}
}

func encodeOrigin(o Origin) (encodedOrigin, error) {
	enc := encodedOrigin{
		Name:        o.Name,
		Path:        o.Path,
		HasLocation: o.HasLocation,
		Cached:      o.Cached,
		Parent:      o.Parent,
	}
	if o.Loader != nil {
		if _, ok := lookupLoader(o.Loader.Kind()); !ok {
			return enc, errors.NewSerializationError(errors.ErrCodeEncode,
				fmt.Sprintf("loader of kind %q cannot be serialized", o.Loader.Kind()), nil)
		}
		enc.LoaderKind = o.Loader.Kind()
		enc.LoaderLocator = o.Loader.Locator()
	}

	return enc, nil
}

func decodeOrigin(enc encodedOrigin) (Origin, error) {
	o := Origin{
		Name:        enc.Name,
		Path:        enc.Path,
		HasLocation: enc.HasLocation,
		Cached:      enc.Cached,
		Parent:      enc.Parent,
	}
	if enc.LoaderKind == "" {
		return o, nil
	}

	decode, ok := lookupLoader(enc.LoaderKind)
	if !ok {
		return o, errors.NewSerializationError(errors.ErrCodeDecode,
			fmt.Sprintf("unknown loader kind %q", enc.LoaderKind), nil)
	}
	loader, err := decode(enc.LoaderLocator)
	if err != nil {
		return o, errors.NewSerializationError(errors.ErrCodeDecode, "cannot restore loader", err)
	}
	o.Loader = loader

	return o, nil
}

func encodeSections(sections []section) []encodedSection {
	out := make([]encodedSection, len(sections))
	for i, s := range sections {
		out[i] = encodedSection(s)
	}

	return out
}

func decodeSections(sections []encodedSection) []section {
	out := make([]section, len(sections))
	for i, s := range sections {
		out[i] = section(s)
	}

	return out
}
