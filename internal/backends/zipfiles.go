package backends

import (
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"sync"

	"github.com/yeka/zip"
	"golang.org/x/text/encoding"

	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
)

func init() {
	compiler.RegisterLoader("zip", func(locator []string) (compiler.Loader, error) {
		if len(locator) != 2 {
			return nil, fmt.Errorf("zip loader wants 2 locator fields, got %d", len(locator))
		}

		return ZipLoader{Archive: locator[0], Entry: locator[1]}, nil
	})
}

// ZipLoader reads the text of one archive entry. The password is not part
// of the persisted locator.
type ZipLoader struct {
	Archive  string
	Entry    string
	Password string
}

func (l ZipLoader) Kind() string { return "zip" }

func (l ZipLoader) Locator() []string { return []string{l.Archive, l.Entry} }

func (l ZipLoader) Source() (string, error) {
	rc, err := zip.OpenReader(l.Archive)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	for _, f := range rc.File {
		if f.Name != l.Entry {
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(l.Password)
		}
		r, err := f.Open()
		if err != nil {
			return "", err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return "", err
		}

		return string(data), nil
	}

	return "", fmt.Errorf("%s: no entry %q", l.Archive, l.Entry)
}

// ZIPFile is a container with one source per archive entry. Modification
// times come from the entry headers; change and access times are zero.
type ZIPFile struct {
	path     string
	password string
	reader   *zip.ReadCloser
	entries  map[string]*zip.File
	order    []string
	compiler *compiler.Compiler
	encoding encoding.Encoding

	closeOnce sync.Once
	closeErr  error
}

var _ TimestampedContainer = (*ZIPFile)(nil)

// OpenZIPFile opens the archive at path. Encrypted entries are read with
// password.
func OpenZIPFile(path, password string, c *compiler.Compiler, enc encoding.Encoding) (*ZIPFile, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, openError(path, err)
	}

	z := &ZIPFile{
		path:     path,
		password: password,
		reader:   rc,
		entries:  make(map[string]*zip.File, len(rc.File)),
		compiler: c,
		encoding: enc,
	}
	for _, f := range rc.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		if f.IsEncrypted() {
			f.SetPassword(password)
		}
		if _, dup := z.entries[f.Name]; !dup {
			z.order = append(z.order, f.Name)
		}
		z.entries[f.Name] = f
	}

	return z, nil
}

func (z *ZIPFile) entry(name string) (*zip.File, error) {
	f, ok := z.entries[name]
	if !ok {
		return nil, errors.NewNotFoundError(name, nil)
	}

	return f, nil
}

func (z *ZIPFile) Get(name string) (Source, error) {
	f, err := z.entry(name)
	if err != nil {
		return nil, err
	}

	return &ZIPSource{archive: z, file: f}, nil
}

func (z *ZIPFile) Contains(name string) bool {
	_, ok := z.entries[name]

	return ok
}

// Names yields entries in archive order.
func (z *ZIPFile) Names() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, name := range z.order {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (z *ZIPFile) Len() (int, error) {
	return len(z.order), nil
}

func (z *ZIPFile) Close() error {
	z.closeOnce.Do(func() {
		z.closeErr = z.reader.Close()
	})

	return z.closeErr
}

func (z *ZIPFile) Info(name string) (Timestamps, error) {
	f, err := z.entry(name)
	if err != nil {
		return Timestamps{}, err
	}

	return Timestamps{Mtime: f.ModTime().UnixNano()}, nil
}

func (z *ZIPFile) Mtime(name string) (int64, error) {
	ts, err := z.Info(name)

	return ts.Mtime, err
}

func (z *ZIPFile) Ctime(name string) (int64, error) {
	_, err := z.entry(name)

	return 0, err
}

func (z *ZIPFile) Atime(name string) (int64, error) {
	_, err := z.entry(name)

	return 0, err
}

// ZIPSource is one entry of a ZIPFile.
type ZIPSource struct {
	archive *ZIPFile
	file    *zip.File
}

var (
	_ TimestampedSource = (*ZIPSource)(nil)
	_ DirectSource      = (*ZIPSource)(nil)
)

func (s *ZIPSource) origin() compiler.Origin {
	return compiler.Origin{
		Name:        "__main__",
		Path:        filepath.Join(s.archive.path, filepath.FromSlash(s.file.Name)),
		HasLocation: true,
		Loader: ZipLoader{
			Archive:  s.archive.path,
			Entry:    s.file.Name,
			Password: s.archive.password,
		},
	}
}

func (s *ZIPSource) open() (io.ReadCloser, error) {
	r, err := s.file.Open()
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeRead, "cannot open archive entry", err).WithName(s.file.Name)
	}

	return r, nil
}

func (s *ZIPSource) Code() (compiler.Code, error) {
	r, err := s.open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return s.archive.compiler.CompileReader(decodingReader(r, s.archive.encoding), s.origin())
}

func (s *ZIPSource) Text() (string, error) {
	r, err := s.open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	return decodeText(r, s.archive.encoding)
}

func (s *ZIPSource) Size() (int64, error) {
	return int64(s.file.UncompressedSize64), nil
}

func (s *ZIPSource) Info() (Timestamps, error) {
	return Timestamps{Mtime: s.file.ModTime().UnixNano()}, nil
}

func (s *ZIPSource) Mtime() (int64, error) {
	return s.file.ModTime().UnixNano(), nil
}

func (s *ZIPSource) Ctime() (int64, error) {
	return 0, nil
}

func (s *ZIPSource) Atime() (int64, error) {
	return 0, nil
}

func (s *ZIPSource) Close() error {
	return nil
}
