package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/compiler"
)

// ExitNotCache is returned when a cache command meets a backend without
// cache.
const ExitNotCache = 3

var errNotCache = stderrors.New("backend is not a cache")

func newBackendCommand(a *app) *cobra.Command {
	backendCmd := &cobra.Command{
		Use:     "backend",
		Aliases: []string{"b"},
		Short:   "Inspect the backend and manage its caches",
		Long: `Inspect the configured backend hierarchy. The fetch, gc and clear
subcommands need a cache on top of the hierarchy and exit with code 3
otherwise.`,
	}

	backendCmd.AddCommand(
		newListCommand(a),
		newShowCommand(a),
		newFetchCommand(a),
		newGCCommand(a),
		newClearCommand(a),
		newDumpCommand(a),
	)

	return backendCmd
}

// withBackend builds the backend, runs fn and closes the backend.
func (a *app) withBackend(fn func(backends.Container) error) error {
	container, err := a.backend()
	if err != nil {
		return err
	}

	return stderrors.Join(fn(container), container.Close())
}

// withCache is withBackend for commands needing a cache.
func (a *app) withCache(fn func(caches.CacheContainer) error) error {
	return a.withBackend(func(container backends.Container) error {
		cache, ok := container.(caches.CacheContainer)
		if !ok {
			return &ExitError{Code: ExitNotCache, Err: errNotCache}
		}

		return fn(cache)
	})
}

// withCacheSource runs fn on the cache source of name.
func withCacheSource(cache caches.CacheContainer, name string, fn func(caches.CacheSource) error) error {
	source, err := cache.Get(name)
	if err != nil {
		return err
	}
	defer source.Close()

	cacheSource, ok := source.(caches.CacheSource)
	if !ok {
		return fmt.Errorf("%s: %T is not a cache source", name, source)
	}

	return fn(cacheSource)
}

type listEntry struct {
	Name   string `json:"name" yaml:"name"`
	Cached bool   `json:"cached" yaml:"cached"`
}

func newListCommand(a *app) *cobra.Command {
	var (
		cachedOnly bool
		format     string
	)

	cmd := &cobra.Command{
		Use:     "list [pattern]",
		Aliases: []string{"ls"},
		Short:   "List the names provided by the backend",
		Long: `List the names provided by the backend. pattern is a regular expression
the whole name has to match. Names with a cache entry are marked [cached].

Examples:
  starhp backend list
  starhp backend list 'blog/.*' --cached
  starhp backend list -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern *regexp.Regexp
			if len(args) == 1 {
				var err error
				// Search anchors the start, the group anchors the end
				if pattern, err = regexp.Compile(`(?:` + args[0] + `)$`); err != nil {
					return fmt.Errorf("invalid pattern: %w", err)
				}
			}

			return a.withBackend(func(container backends.Container) error {
				entries, err := listEntries(container, pattern, cachedOnly)
				if err != nil {
					return err
				}

				return writeOutput(cmd.OutOrStdout(), format, entries, func(w io.Writer) error {
					for _, entry := range entries {
						suffix := ""
						if entry.Cached {
							suffix = " [cached]"
						}
						if _, err := fmt.Fprintf(w, "'%s'%s\n", entry.Name, suffix); err != nil {
							return err
						}
					}

					return nil
				})
			})
		},
	}

	cmd.Flags().BoolVar(&cachedOnly, "cached", false, "just list names which are cached")
	addOutputFlag(cmd, &format)

	return cmd
}

func listEntries(container backends.Container, pattern *regexp.Regexp, cachedOnly bool) ([]listEntry, error) {
	cached := map[string]bool{}
	names := container.Names()
	if pattern != nil {
		names = backends.Search(container, pattern)
	}
	if cache, ok := container.(caches.CacheContainer); ok {
		for name, err := range cache.CachedNames() {
			if err != nil {
				return nil, err
			}
			cached[name] = true
		}
		if cachedOnly {
			names = cache.CachedNames()
			if pattern != nil {
				names = backends.Filter(names, pattern)
			}
		}
	} else if cachedOnly {
		return []listEntry{}, nil
	}

	entries := []listEntry{}
	for name, err := range names {
		if err != nil {
			return nil, err
		}
		entries = append(entries, listEntry{Name: name, Cached: cached[name]})
	}

	return entries, nil
}

type showInfo struct {
	Name   string `json:"name" yaml:"name"`
	Mtime  *int64 `json:"mtime,omitempty" yaml:"mtime,omitempty"`
	Ctime  *int64 `json:"ctime,omitempty" yaml:"ctime,omitempty"`
	Atime  *int64 `json:"atime,omitempty" yaml:"atime,omitempty"`
	Cached *bool  `json:"cached,omitempty" yaml:"cached,omitempty"`
}

func notSupported[T any](v *T) string {
	if v == nil {
		return "Not supported"
	}

	return fmt.Sprint(*v)
}

func newShowCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show name",
		Short: "Show details about a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			return a.withBackend(func(container backends.Container) error {
				info, err := showSource(container, name)
				if err != nil {
					return err
				}

				return writeOutput(cmd.OutOrStdout(), format, info, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Name: '%s'\nmtime: %s\nctime: %s\natime: %s\ncached: %s\n",
						info.Name,
						notSupported(info.Mtime),
						notSupported(info.Ctime),
						notSupported(info.Atime),
						notSupported(info.Cached))

					return err
				})
			})
		},
	}
	addOutputFlag(cmd, &format)

	return cmd
}

func showSource(container backends.Container, name string) (*showInfo, error) {
	source, err := container.Get(name)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	info := &showInfo{Name: name}
	if ts, ok := source.(backends.TimestampedSource); ok {
		times, err := ts.Info()
		if err != nil {
			return nil, err
		}
		info.Mtime, info.Ctime, info.Atime = &times.Mtime, &times.Ctime, &times.Atime
	}
	if cs, ok := source.(caches.CacheSource); ok {
		cached, err := cs.Cached()
		if err != nil {
			return nil, err
		}
		info.Cached = &cached
	}

	return info, nil
}

func newFetchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch names...",
		Short: "Warm the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(cache caches.CacheContainer) error {
				for _, name := range args {
					if err := withCacheSource(cache, name, caches.CacheSource.Fetch); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

func newGCCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gc [names...]",
		Short: "Garbage collect the cache",
		Long:  "Remove stale cache entries of the given names, or of all names.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			return a.withCache(func(cache caches.CacheContainer) error {
				if len(args) == 0 {
					removed, err := cache.GC()
					fmt.Fprintf(out, "Collected %d names\n", removed)

					return err
				}

				for _, name := range args {
					err := withCacheSource(cache, name, func(source caches.CacheSource) error {
						removed, err := source.GC()
						if err == nil && removed {
							fmt.Fprintf(out, "Collected '%s'\n", name)
						}

						return err
					})
					if err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

func newClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [names...]",
		Short: "Clear the cache",
		Long:  "Remove the cache entries of the given names, or of all names.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCache(func(cache caches.CacheContainer) error {
				if len(args) == 0 {
					return cache.Clear()
				}
				for _, name := range args {
					if err := withCacheSource(cache, name, caches.CacheSource.Clear); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
}

func newDumpCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump name",
		Short: "Dump the compiled form of a name",
		Long: `Write the serialized Code of name to stdout or to the file given with -o.
The output can be loaded again by the caches.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(func(container backends.Container) error {
				code, err := backends.Load(container, args[0])
				if err != nil {
					return err
				}
				data, err := compiler.Marshal(code)
				if err != nil {
					return err
				}

				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)

					return err
				}

				return os.WriteFile(output, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write the content to")

	return cmd
}
