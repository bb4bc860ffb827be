package watcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/logging"
)

// Collector is the part of a cache container the Invalidator drives.
type Collector interface {
	Get(name string) (backends.Source, error)
	Collect(name string) (bool, error)
}

var _ Collector = (*caches.Container)(nil)

// Invalidator maps file events below root to names and collects their
// cache entries. With fetch set, changed documents are compiled and stored
// again right away.
type Invalidator struct {
	root   string
	cache  Collector
	fetch  bool
	logger logging.Logger
}

// NewInvalidator creates an Invalidator for the directory root.
func NewInvalidator(root string, cache Collector, fetch bool, logger logging.Logger) (*Invalidator, error) {
	abs, err := cleanPath(root)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Invalidator{root: abs, cache: cache, fetch: fetch, logger: logger.WithComponent("invalidator")}, nil
}

// Name returns the container name of path, or false when path is not
// below the root.
func (inv *Invalidator) Name(path string) (string, bool) {
	rel, err := filepath.Rel(inv.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	return filepath.ToSlash(rel), true
}

// Handle is a ChangeHandler. It continues past failing names and returns
// their errors joined.
func (inv *Invalidator) Handle(events []ChangeEvent) error {
	ctx := context.Background()

	var errs []error
	for _, event := range events {
		name, ok := inv.Name(event.Path)
		if !ok {
			continue
		}
		if err := inv.handle(ctx, name, event.Type); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return stderrors.Join(errs...)
}

func (inv *Invalidator) handle(ctx context.Context, name string, eventType EventType) error {
	removed, err := inv.cache.Collect(name)
	if err != nil {
		return err
	}
	inv.logger.Debug(ctx, "collected", "name", name, "event", eventType.String(), "removed", removed)

	if !inv.fetch || eventType.Gone() {
		return nil
	}

	source, err := inv.cache.Get(name)
	if err != nil {
		return err
	}
	defer source.Close()

	cacheSource, ok := source.(caches.CacheSource)
	if !ok {
		return fmt.Errorf("%T is not a cache source", source)
	}
	if err := cacheSource.Fetch(); err != nil {
		return err
	}
	inv.logger.Info(ctx, "fetched", "name", name)

	return nil
}
