package backends

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/encoding"

	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
)

// FileSource compiles the content of an open file. Metadata is read from
// the descriptor on every call.
type FileSource struct {
	file     *os.File
	path     string
	compiler *compiler.Compiler
	encoding encoding.Encoding

	closeOnce sync.Once
	closeErr  error
}

var (
	_ TimestampedSource = (*FileSource)(nil)
	_ DirectSource      = (*FileSource)(nil)
)

// NewFileSource wraps file. Path may be empty for handles without a name
// on the filesystem, such as pipes.
func NewFileSource(file *os.File, path string, c *compiler.Compiler, enc encoding.Encoding) *FileSource {
	return &FileSource{file: file, path: path, compiler: c, encoding: enc}
}

// OpenFileSource opens the file at path.
func OpenFileSource(path string, c *compiler.Compiler, enc encoding.Encoding) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()

		return nil, openError(path, err)
	}
	if info.IsDir() {
		file.Close()

		return nil, errors.NewNotFoundError(path, fmt.Errorf("%s is a directory", path))
	}

	return NewFileSource(file, path, c, enc), nil
}

func openError(name string, err error) error {
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		return errors.NewNotFoundError(name, err)
	case stderrors.Is(err, fs.ErrPermission):
		return errors.NewContainerError(errors.ErrCodePermission, "permission denied", err).WithName(name)
	default:
		return errors.NewIOError(errors.ErrCodeRead, "cannot open source", err).WithName(name)
	}
}

// Path returns the path the source was opened from.
func (s *FileSource) Path() string {
	return s.path
}

// Equal compares path and compiler, not content.
func (s *FileSource) Equal(other *FileSource) bool {
	return s.path == other.path && s.compiler == other.compiler
}

func (s *FileSource) origin() compiler.Origin {
	if s.path == "" {
		return compiler.Origin{Name: "__main__", Path: fmt.Sprintf("<fd %d>", s.file.Fd())}
	}

	return compiler.FileOrigin(s.path)
}

// Code reads the whole file and compiles it. It fails with not found when
// the path no longer exists even though the descriptor is still open.
func (s *FileSource) Code() (compiler.Code, error) {
	if s.path != "" {
		if _, err := os.Stat(s.path); err != nil {
			return nil, openError(s.path, err)
		}
	}
	if err := s.rewind(); err != nil {
		return nil, err
	}

	return s.compiler.CompileReader(decodingReader(s.file, s.encoding), s.origin())
}

// rewind seeks back to the start. Unnamed handles like pipes cannot seek
// and are read from their current position.
func (s *FileSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil && s.path != "" {
		return errors.NewIOError(errors.ErrCodeRead, "cannot rewind source", err).WithName(s.path)
	}

	return nil
}

// Text returns the decoded file content.
func (s *FileSource) Text() (string, error) {
	if err := s.rewind(); err != nil {
		return "", err
	}

	return decodeText(s.file, s.encoding)
}

// Size returns the size of the file in bytes.
func (s *FileSource) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeRead, "cannot stat source", err).WithName(s.path)
	}

	return info.Size(), nil
}

func (s *FileSource) Info() (Timestamps, error) {
	info, err := s.file.Stat()
	if err != nil {
		return Timestamps{}, errors.NewIOError(errors.ErrCodeRead, "cannot stat source", err).WithName(s.path)
	}

	return timestampsOf(info), nil
}

func (s *FileSource) Mtime() (int64, error) {
	ts, err := s.Info()

	return ts.Mtime, err
}

func (s *FileSource) Ctime() (int64, error) {
	ts, err := s.Info()

	return ts.Ctime, err
}

func (s *FileSource) Atime() (int64, error) {
	ts, err := s.Info()

	return ts.Atime, err
}

func (s *FileSource) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})

	return s.closeErr
}

// Directory maps paths below a root directory to FileSources. A strict
// Directory rejects names resolving outside of the root.
type Directory struct {
	root     string
	strict   bool
	compiler *compiler.Compiler
	encoding encoding.Encoding
}

var _ TimestampedContainer = (*Directory)(nil)

// NewDirectory creates a Directory allowing names to leave root.
func NewDirectory(root string, c *compiler.Compiler, enc encoding.Encoding) *Directory {
	return &Directory{root: filepath.Clean(root), compiler: c, encoding: enc}
}

// NewStrictDirectory creates a Directory confined to root.
func NewStrictDirectory(root string, c *compiler.Compiler, enc encoding.Encoding) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot resolve directory %q: %v", root, err))
	}

	return &Directory{root: abs, strict: true, compiler: c, encoding: enc}, nil
}

// Root returns the directory names are resolved against.
func (d *Directory) Root() string {
	return d.root
}

// Strict reports whether names are confined to the root.
func (d *Directory) Strict() bool {
	return d.strict
}

// Path resolves name to a filesystem path. Absolute names are used as is.
func (d *Directory) Path(name string) (string, error) {
	path := name
	if !filepath.IsAbs(name) {
		path = filepath.Join(d.root, filepath.FromSlash(name))
	}
	path = filepath.Clean(path)

	if d.strict {
		rel, err := filepath.Rel(d.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", errors.NewLeavesDirectoryError(name, d.root)
		}
	}

	return path, nil
}

func (d *Directory) Get(name string) (Source, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	source, err := OpenFileSource(path, d.compiler, d.encoding)
	if err != nil {
		var ee *errors.EngineError
		if stderrors.As(err, &ee) {
			ee.Name = name
		}

		return nil, err
	}

	return source, nil
}

func (d *Directory) Contains(name string) bool {
	info, err := d.stat(name)

	return err == nil && !info.IsDir()
}

// Names walks the directory recursively, following symbolic links. Names
// use forward slashes.
func (d *Directory) Names() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		visited := map[string]bool{}
		d.walk(d.root, "", visited, yield)
	}
}

func (d *Directory) walk(dir, prefix string, visited map[string]bool, yield func(string, error) bool) bool {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return yield("", errors.NewIOError(errors.ErrCodeRead, "cannot resolve directory", err).WithName(prefix))
	}
	if visited[resolved] {
		return true
	}
	visited[resolved] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return yield("", errors.NewIOError(errors.ErrCodeRead, "cannot list directory", err).WithName(prefix))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if prefix != "" {
			name = prefix + "/" + name
		}
		path := filepath.Join(dir, entry.Name())

		isDir := entry.IsDir()
		if entry.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				// dangling link
				continue
			}
			isDir = info.IsDir()
		}

		if isDir {
			if !d.walk(path, name, visited, yield) {
				return false
			}

			continue
		}
		if !yield(name, nil) {
			return false
		}
	}

	return true
}

func (d *Directory) Len() (int, error) {
	count := 0
	for _, err := range d.Names() {
		if err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func (d *Directory) Close() error {
	return nil
}

func (d *Directory) stat(name string) (os.FileInfo, error) {
	path, err := d.Path(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, openError(name, err)
	}
	if info.IsDir() {
		return nil, errors.NewNotFoundError(name, fmt.Errorf("%s is a directory", path))
	}

	return info, nil
}

// Info stats the path directly without opening a source.
func (d *Directory) Info(name string) (Timestamps, error) {
	info, err := d.stat(name)
	if err != nil {
		return Timestamps{}, err
	}

	return timestampsOf(info), nil
}

func (d *Directory) Mtime(name string) (int64, error) {
	ts, err := d.Info(name)

	return ts.Mtime, err
}

func (d *Directory) Ctime(name string) (int64, error) {
	ts, err := d.Info(name)

	return ts.Ctime, err
}

func (d *Directory) Atime(name string) (int64, error) {
	ts, err := d.Info(name)

	return ts.Atime, err
}
