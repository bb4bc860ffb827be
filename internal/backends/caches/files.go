package caches

import (
	"encoding/base32"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
)

const (
	cacheSuffix = ".cache"
	tempSuffix  = ".new"
)

// FileOptions configures a FileCache.
type FileOptions struct {
	Directory string
	TTL       time.Duration
}

// NewFileCache caches the Code of inner as files in opts.Directory.
func NewFileCache(inner backends.Container, opts FileOptions, logger logging.Logger) (*Container, error) {
	store, err := NewFileStore(opts.Directory)
	if err != nil {
		return nil, err
	}

	return New(inner, store, opts.TTL, logger)
}

// FileStore keeps one file per name. The modification time of a file is
// the time its entry was cached.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "file cache needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewCacheError(errors.ErrCodeCacheWrite, "cannot create cache directory", err).
			WithLocation(dir, 0, 0)
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the cache directory.
func (f *FileStore) Dir() string {
	return f.dir
}

// EncodeName maps name to a file name. The encoding is reversible and
// does not depend on case sensitivity of the filesystem.
func EncodeName(name string) string {
	return base32.StdEncoding.EncodeToString([]byte(name)) + cacheSuffix
}

// DecodeName reverses EncodeName.
func DecodeName(file string) (string, error) {
	if !strings.HasSuffix(file, cacheSuffix) {
		return "", fmt.Errorf("%q is not a cache file", file)
	}
	raw, err := base32.StdEncoding.DecodeString(strings.TrimSuffix(file, cacheSuffix))
	if err != nil {
		return "", fmt.Errorf("%q is not a cache file: %w", file, err)
	}

	return string(raw), nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, EncodeName(name))
}

// Load opens the entry before checking it, so the validity decision and
// the decoded content belong to the same file even if it is replaced
// concurrently.
func (f *FileStore) Load(name string, valid func(int64) bool) (compiler.Code, bool, error) {
	file, err := f.open(name)
	if err != nil || file == nil {
		return nil, false, err
	}
	defer file.Close()

	return f.read(name, file, valid)
}

func (f *FileStore) open(name string) (*os.File, error) {
	file, err := os.Open(f.path(name))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewCacheError(errors.ErrCodeCacheRead, "cannot open cache file", err).WithName(name)
	}

	return file, nil
}

func (f *FileStore) read(name string, file *os.File, valid func(int64) bool) (compiler.Code, bool, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, false, errors.NewCacheError(errors.ErrCodeCacheRead, "cannot stat cache file", err).WithName(name)
	}
	if !valid(info.ModTime().UnixNano()) {
		return nil, false, nil
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, false, errors.NewCacheError(errors.ErrCodeCacheRead, "cannot read cache file", err).WithName(name)
	}
	code, err := compiler.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}

	return code, true, nil
}

// Save writes to a temporary file and renames it into place. When the
// temporary file already exists another writer is active and the entry is
// left to it.
func (f *FileStore) Save(name string, code compiler.Code, cachedAt int64) error {
	data, err := compiler.Marshal(code)
	if err != nil {
		return err
	}

	path := f.path(name)
	temp := path + tempSuffix
	file, err := os.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if stderrors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := writeEntry(file, temp, path, data, time.Unix(0, cachedAt)); err != nil {
		os.Remove(temp)

		return err
	}

	return nil
}

func writeEntry(file *os.File, temp, path string, data []byte, cachedAt time.Time) error {
	if _, err := file.Write(data); err != nil {
		file.Close()

		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Chtimes(temp, cachedAt, cachedAt); err != nil {
		return err
	}

	return os.Rename(temp, path)
}

func (f *FileStore) CachedAt(name string) (int64, bool, error) {
	info, err := os.Stat(f.path(name))
	if stderrors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewCacheError(errors.ErrCodeCacheRead, "cannot stat cache file", err).WithName(name)
	}

	return info.ModTime().UnixNano(), true, nil
}

func (f *FileStore) Remove(name string) (bool, error) {
	err := os.Remove(f.path(name))
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Names yields the names of all cache files in sorted order. Files whose
// names do not decode are skipped.
func (f *FileStore) Names() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := os.ReadDir(f.dir)
		if err != nil {
			yield("", errors.NewCacheError(errors.ErrCodeCacheRead, "cannot list cache directory", err))

			return
		}

		var names []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name, err := DecodeName(entry.Name())
			if err != nil {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (f *FileStore) Close() error {
	return nil
}
