package backends

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/conneroisu/starhp/internal/errors"
)

// LookupEncoding returns the text encoding registered under name. The empty
// name selects UTF-8.
func LookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown text encoding %q", name)).
			WithContext("field", "encoding")
	}

	return enc, nil
}

func decodingReader(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc == nil {
		enc = unicode.UTF8
	}

	return enc.NewDecoder().Reader(r)
}

func decodeText(r io.Reader, enc encoding.Encoding) (string, error) {
	data, err := io.ReadAll(decodingReader(r, enc))
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeRead, "cannot decode text", err)
	}

	return string(data), nil
}
