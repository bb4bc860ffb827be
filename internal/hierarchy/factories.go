package hierarchy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/backends/caches"
	"github.com/conneroisu/starhp/internal/errors"
)

// Names of the built-in layers.
const (
	NameDirectory       = "backends.files.Directory"
	NameStrictDirectory = "backends.files.StrictDirectory"
	NameHashMap         = "backends.memory.HashMap"
	NameZIPFile         = "backends.zipfiles.ZIPFile"
	NameMemoryCache     = "backends.caches.timestamped.memory.MemoryCache"
	NameFileCache       = "backends.caches.timestamped.files.FileCache"
)

type directoryConfig struct {
	Path     string `mapstructure:"path"`
	Encoding string `mapstructure:"encoding"`
}

type zipFileConfig struct {
	Path     string `mapstructure:"path"`
	Password string `mapstructure:"pwd"`
	Encoding string `mapstructure:"encoding"`
}

// hashMapConfig lists documents as name/source pairs. Names are values,
// not keys, so configuration loaders cannot change their case.
type hashMapConfig struct {
	Documents []hashMapDocument `mapstructure:"documents"`
}

type hashMapDocument struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
}

type memoryCacheConfig struct {
	TTL        float64 `mapstructure:"ttl"`
	Strategy   string  `mapstructure:"strategy"`
	MaxEntries int     `mapstructure:"max_entries"`
}

type fileCacheConfig struct {
	DirectoryName string  `mapstructure:"directory_name"`
	TTL           float64 `mapstructure:"ttl"`
}

// decodeConfig fills out from raw, rejecting unknown keys.
func decodeConfig(layer string, raw map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("%s: %v", layer, err))
	}

	return nil
}

// ExpandUser replaces a leading ~ with the home directory.
func ExpandUser(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// built drops the typed nil a failed constructor returns.
func built[C backends.Container](c C, err error) (backends.Container, error) {
	if err != nil {
		return nil, err
	}

	return c, nil
}

func requireFirst(layer string, below Below) error {
	if below.Container != nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("%s does not decorate another container", layer))
	}

	return nil
}

func requireBelow(layer string, below Below) error {
	if below.Container == nil {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("%s has to decorate another container", layer))
	}

	return nil
}

func directoryFactory(strict bool) Factory {
	layer := NameDirectory
	if strict {
		layer = NameStrictDirectory
	}

	return func(config map[string]any, below Below) (backends.Container, error) {
		if err := requireFirst(layer, below); err != nil {
			return nil, err
		}
		var cfg directoryConfig
		if err := decodeConfig(layer, config, &cfg); err != nil {
			return nil, err
		}
		if cfg.Path == "" {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, layer+": missing path")
		}
		enc, err := backends.LookupEncoding(cfg.Encoding)
		if err != nil {
			return nil, err
		}

		path := ExpandUser(cfg.Path)
		if strict {
			return built(backends.NewStrictDirectory(path, below.Compiler, enc))
		}

		return backends.NewDirectory(path, below.Compiler, enc), nil
	}
}

// hashMapFactory compiles the configured documents, or copies the
// container below when there is one.
func hashMapFactory(config map[string]any, below Below) (backends.Container, error) {
	if below.Container != nil {
		return built(backends.CopyHashMap(below.Container))
	}

	var cfg hashMapConfig
	if err := decodeConfig(NameHashMap, config, &cfg); err != nil {
		return nil, err
	}
	sources := make(map[string]string, len(cfg.Documents))
	for i, doc := range cfg.Documents {
		if doc.Name == "" {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("%s: document %d has no name", NameHashMap, i))
		}
		if _, dup := sources[doc.Name]; dup {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("%s: duplicate document %q", NameHashMap, doc.Name))
		}
		sources[doc.Name] = doc.Source
	}

	return built(backends.CompileHashMap(below.Compiler, sources))
}

func zipFileFactory(config map[string]any, below Below) (backends.Container, error) {
	if err := requireFirst(NameZIPFile, below); err != nil {
		return nil, err
	}
	var cfg zipFileConfig
	if err := decodeConfig(NameZIPFile, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, NameZIPFile+": missing path")
	}
	enc, err := backends.LookupEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}

	return built(backends.OpenZIPFile(ExpandUser(cfg.Path), cfg.Password, below.Compiler, enc))
}

func memoryCacheFactory(config map[string]any, below Below) (backends.Container, error) {
	if err := requireBelow(NameMemoryCache, below); err != nil {
		return nil, err
	}
	var cfg memoryCacheConfig
	if err := decodeConfig(NameMemoryCache, config, &cfg); err != nil {
		return nil, err
	}

	return built(caches.NewMemoryCache(below.Container, caches.MemoryOptions{
		TTL:        caches.TTLFromSeconds(cfg.TTL),
		Strategy:   cfg.Strategy,
		MaxEntries: cfg.MaxEntries,
	}, below.Logger))
}

func fileCacheFactory(config map[string]any, below Below) (backends.Container, error) {
	if err := requireBelow(NameFileCache, below); err != nil {
		return nil, err
	}
	var cfg fileCacheConfig
	if err := decodeConfig(NameFileCache, config, &cfg); err != nil {
		return nil, err
	}
	if cfg.DirectoryName == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, NameFileCache+": missing directory_name")
	}

	return built(caches.NewFileCache(below.Container, caches.FileOptions{
		Directory: ExpandUser(cfg.DirectoryName),
		TTL:       caches.TTLFromSeconds(cfg.TTL),
	}, below.Logger))
}
