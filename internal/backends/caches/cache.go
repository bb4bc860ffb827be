package caches

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"time"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
)

// Store persists cached Code by name. Implementations are safe for
// concurrent use; a check followed by a use may observe one stale entry.
type Store interface {
	// Load returns the entry for name if valid accepts its cache time.
	// ok is false for absent and rejected entries.
	Load(name string, valid func(cachedAt int64) bool) (code compiler.Code, ok bool, err error)
	Save(name string, code compiler.Code, cachedAt int64) error
	CachedAt(name string) (cachedAt int64, ok bool, err error)
	// Remove reports whether an entry existed.
	Remove(name string) (bool, error)
	Names() iter.Seq2[string, error]
	Close() error
}

// CacheSource is a Source whose Code is served from a cache.
type CacheSource interface {
	backends.Source
	// Fetch compiles the raw source and stores the result.
	Fetch() error
	// GC removes the entry if it is stale and reports whether it did.
	GC() (bool, error)
	// Clear removes the entry; it fails with ErrNotCached if there is none.
	Clear() error
	Cached() (bool, error)
}

// CacheContainer is a Container whose sources are CacheSources.
type CacheContainer interface {
	backends.Container
	GC() (int, error)
	Clear() error
	CachedNames() iter.Seq2[string, error]
}

// Container decorates a timestamped container with a Store. It forwards
// timestamps, so caches can be stacked.
type Container struct {
	inner  backends.TimestampedContainer
	store  Store
	ttl    time.Duration
	logger logging.Logger
}

var (
	_ CacheContainer                = (*Container)(nil)
	_ backends.TimestampedContainer = (*Container)(nil)
)

// New wraps inner. It fails with ErrNotTimestamped when inner cannot report
// modification times.
func New(inner backends.Container, store Store, ttl time.Duration, logger logging.Logger) (*Container, error) {
	timestamped, ok := inner.(backends.TimestampedContainer)
	if !ok {
		return nil, errors.NewContainerError(errors.ErrCodeNotTimestamped,
			fmt.Sprintf("cannot cache %T: container has no timestamps", inner), nil)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Container{
		inner:  timestamped,
		store:  store,
		ttl:    ttl,
		logger: logger.WithComponent("cache"),
	}, nil
}

// Inner returns the decorated container.
func (c *Container) Inner() backends.TimestampedContainer {
	return c.inner
}

// Store returns where the entries are kept.
func (c *Container) Store() Store {
	return c.store
}

// TTL returns the configured time to live.
func (c *Container) TTL() time.Duration {
	return c.ttl
}

func (c *Container) valid(sourceMtime int64) func(int64) bool {
	return func(cachedAt int64) bool {
		return CheckValidity(sourceMtime, cachedAt, c.ttl)
	}
}

func (c *Container) Get(name string) (backends.Source, error) {
	inner, err := c.inner.Get(name)
	if err != nil {
		return nil, err
	}

	return &Source{name: name, inner: inner, cache: c}, nil
}

func (c *Container) Contains(name string) bool {
	return c.inner.Contains(name)
}

func (c *Container) Names() iter.Seq2[string, error] {
	return c.inner.Names()
}

func (c *Container) Len() (int, error) {
	return c.inner.Len()
}

// Close closes the store and the decorated container.
func (c *Container) Close() error {
	return stderrors.Join(c.store.Close(), c.inner.Close())
}

func (c *Container) Info(name string) (backends.Timestamps, error) {
	return c.inner.Info(name)
}

func (c *Container) Mtime(name string) (int64, error) {
	return c.inner.Mtime(name)
}

func (c *Container) Ctime(name string) (int64, error) {
	return c.inner.Ctime(name)
}

func (c *Container) Atime(name string) (int64, error) {
	return c.inner.Atime(name)
}

// CachedNames yields the names with a stored entry, valid or not.
func (c *Container) CachedNames() iter.Seq2[string, error] {
	return c.store.Names()
}

// Cached reports whether name has a valid entry.
func (c *Container) Cached(name string) (bool, error) {
	mtime, err := c.inner.Mtime(name)
	if err != nil {
		return false, err
	}

	return c.cached(name, mtime)
}

func (c *Container) cached(name string, sourceMtime int64) (bool, error) {
	cachedAt, ok, err := c.store.CachedAt(name)
	if err != nil || !ok {
		return false, err
	}

	return CheckValidity(sourceMtime, cachedAt, c.ttl), nil
}

// Collect removes the entry for name when it is stale or its source is
// gone or no longer reachable, reporting whether it did.
func (c *Container) Collect(name string) (bool, error) {
	mtime, err := c.inner.Mtime(name)
	switch {
	case stderrors.Is(err, errors.ErrNotFound), stderrors.Is(err, errors.ErrLeavesDirectory):
		return c.store.Remove(name)
	case err != nil:
		return false, err
	}

	return c.collect(name, mtime)
}

func (c *Container) collect(name string, sourceMtime int64) (bool, error) {
	cachedAt, ok, err := c.store.CachedAt(name)
	if err != nil || !ok {
		return false, err
	}
	if CheckValidity(sourceMtime, cachedAt, c.ttl) {
		return false, nil
	}

	return c.store.Remove(name)
}

// GC removes every stale or orphaned entry and returns how many were
// removed. It continues past failing entries and reports them joined.
func (c *Container) GC() (int, error) {
	ctx := context.Background()
	perf := logging.StartOperation(c.logger, "cache_gc")

	var names []string
	var errs []error
	for name, err := range c.store.Names() {
		if err != nil {
			errs = append(errs, err)

			continue
		}
		names = append(names, name)
	}

	removed := 0
	for _, name := range names {
		ok, err := c.Collect(name)
		if err != nil {
			c.logger.Warn(ctx, err, "cannot collect cache entry", "name", name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))

			continue
		}
		if ok {
			removed++
		}
	}

	err := stderrors.Join(errs...)
	if err != nil {
		perf.EndWithError(ctx, err)
	} else {
		perf.End(ctx, "removed", removed, "scanned", len(names))
	}

	return removed, err
}

// ClearName removes the entry for name, failing with ErrNotCached if there
// is none.
func (c *Container) ClearName(name string) error {
	removed, err := c.store.Remove(name)
	if err != nil {
		return errors.NewCacheError(errors.ErrCodeCacheWrite, "cannot remove cache entry", err).WithName(name)
	}
	if !removed {
		return errors.NewNotCachedError(name)
	}

	return nil
}

// Clear removes every entry.
func (c *Container) Clear() error {
	var names []string
	for name, err := range c.store.Names() {
		if err != nil {
			return err
		}
		names = append(names, name)
	}

	var errs []error
	for _, name := range names {
		if err := c.ClearName(name); err != nil && !stderrors.Is(err, errors.ErrNotCached) {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

func (c *Container) save(ctx context.Context, name string, code compiler.Code) error {
	if err := c.store.Save(name, code, now().UnixNano()); err != nil {
		return errors.NewCacheError(errors.ErrCodeCacheWrite, "cannot store cache entry", err).WithName(name)
	}
	c.logger.Debug(ctx, "stored cache entry", "name", name)

	return nil
}

// Source serves the Code of one name from the cache, compiling the raw
// source only when the entry is missing or stale.
type Source struct {
	name  string
	inner backends.Source
	cache *Container
}

var (
	_ CacheSource                = (*Source)(nil)
	_ backends.TimestampedSource = (*Source)(nil)
)

// Name returns the name the source was retrieved under.
func (s *Source) Name() string {
	return s.name
}

// Info prefers the open raw source over a fresh lookup in the container.
func (s *Source) Info() (backends.Timestamps, error) {
	if ts, ok := s.inner.(backends.TimestampedSource); ok {
		return ts.Info()
	}

	return s.cache.inner.Info(s.name)
}

func (s *Source) Mtime() (int64, error) {
	if ts, ok := s.inner.(backends.TimestampedSource); ok {
		return ts.Mtime()
	}

	return s.cache.inner.Mtime(s.name)
}

func (s *Source) Ctime() (int64, error) {
	info, err := s.Info()

	return info.Ctime, err
}

func (s *Source) Atime() (int64, error) {
	info, err := s.Info()

	return info.Atime, err
}

// Code returns the cached Code while it is valid. Otherwise the raw source
// is compiled and the result stored; a failed store is logged and the
// compiled Code returned anyway.
func (s *Source) Code() (compiler.Code, error) {
	ctx := context.Background()
	mtime, err := s.Mtime()
	if err != nil {
		return nil, err
	}

	code, ok, err := s.cache.store.Load(s.name, s.cache.valid(mtime))
	if err != nil {
		return nil, err
	}
	if ok {
		return code, nil
	}

	code, err = s.inner.Code()
	if err != nil {
		return nil, err
	}
	if err := s.cache.save(ctx, s.name, code); err != nil {
		s.cache.logger.Warn(ctx, err, "cannot store cache entry", "name", s.name)
	}

	return code, nil
}

func (s *Source) Fetch() error {
	code, err := s.inner.Code()
	if err != nil {
		return err
	}

	return s.cache.save(context.Background(), s.name, code)
}

func (s *Source) GC() (bool, error) {
	mtime, err := s.Mtime()
	if err != nil {
		return false, err
	}

	return s.cache.collect(s.name, mtime)
}

func (s *Source) Clear() error {
	return s.cache.ClearName(s.name)
}

func (s *Source) Cached() (bool, error) {
	mtime, err := s.Mtime()
	if err != nil {
		return false, err
	}

	return s.cache.cached(s.name, mtime)
}

func (s *Source) Close() error {
	return s.inner.Close()
}
