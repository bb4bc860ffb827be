package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/watcher"
)

func newWatchCommand(a *app) *cobra.Command {
	var (
		fetch bool
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Keep the cache of a directory backend fresh",
		Long: `Watch a directory and collect the cache entries of changed documents.
The directory defaults to the root of the directory layer at the bottom of
the backend. With --fetch, changed documents are compiled again right away.
The backend needs a cache on top; watch exits with code 3 otherwise.

Examples:
  starhp watch
  starhp watch ./site --fetch --delay 500ms`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withBackend(func(container backends.Container) error {
				fileWatcher, err := a.watchBackend(ctx, container, args, fetch, delay, nil)
				if err != nil {
					return err
				}
				defer fileWatcher.Stop()

				<-ctx.Done()
				a.logger.Info(ctx, "stopped watching")

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fetch, "fetch", false, "compile changed documents right away")
	cmd.Flags().DurationVar(&delay, "delay", 300*time.Millisecond, "time to collect events before handling them")

	return cmd
}

// watchBackend starts a watcher collecting the cache entries of changed
// documents below dirs[0], or below the directory layer of container.
// notify is called with the name of every changed document. The caller
// stops the watcher.
func (a *app) watchBackend(
	ctx context.Context,
	container backends.Container,
	dirs []string,
	fetch bool,
	delay time.Duration,
	notify func(name string, gone bool),
) (*watcher.FileWatcher, error) {
	cache, ok := container.(caches.CacheContainer)
	if !ok {
		return nil, &ExitError{Code: ExitNotCache, Err: errNotCache}
	}
	collector, ok := cache.(watcher.Collector)
	if !ok {
		return nil, &ExitError{Code: ExitNotCache, Err: fmt.Errorf("%T can not collect names", cache)}
	}

	var dir string
	if len(dirs) > 0 {
		dir = dirs[0]
	} else if dir, ok = rootDirectory(container); !ok {
		return nil, stderrors.New("backend has no directory layer, pass the directory to watch")
	}

	invalidator, err := watcher.NewInvalidator(dir, collector, fetch, a.logger)
	if err != nil {
		return nil, err
	}
	handler := invalidator.Handle
	if notify != nil {
		handler = func(events []watcher.ChangeEvent) error {
			err := invalidator.Handle(events)
			for _, event := range events {
				if name, ok := invalidator.Name(event.Path); ok {
					notify(name, event.Type.Gone())
				}
			}

			return err
		}
	}

	fileWatcher, err := watcher.NewFileWatcher(delay, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddFilter(watcher.HiddenFilter)
	// a file cache kept below dir would otherwise report its own writes
	for _, cacheDir := range cacheDirectories(container) {
		fileWatcher.AddFilter(watcher.ExcludeDirFilter(cacheDir))
	}
	fileWatcher.AddHandler(handler)
	if err := fileWatcher.AddRecursive(dir); err != nil {
		_ = fileWatcher.Stop()

		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if err := fileWatcher.Start(ctx); err != nil {
		_ = fileWatcher.Stop()

		return nil, err
	}
	a.logger.Info(ctx, "watching", "dir", dir, "fetch", fetch, "delay", delay)

	return fileWatcher, nil
}

// rootDirectory returns the root of the directory layer at the bottom of
// container.
func rootDirectory(container backends.Container) (string, bool) {
	for {
		switch c := container.(type) {
		case *backends.Directory:
			return c.Root(), true
		case interface {
			Inner() backends.TimestampedContainer
		}:
			container = c.Inner()
		default:
			return "", false
		}
	}
}

// cacheDirectories returns the directories of the file caches in container.
func cacheDirectories(container backends.Container) []string {
	var dirs []string
	for {
		cache, ok := container.(*caches.Container)
		if !ok {
			return dirs
		}
		if store, ok := cache.Store().(*caches.FileStore); ok {
			dirs = append(dirs, store.Dir())
		}
		container = cache.Inner()
	}
}
