package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/logging"
)

// isolate keeps the user's and the system's config files out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfigFile, "")
}

func load(t *testing.T, file string) (*Config, error) {
	t.Helper()
	v := viper.New()
	if err := Setup(v, file); err != nil {
		return nil, err
	}

	return Load(v)
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	config, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)
	assert.Equal(t, compiler.DefaultStart, config.Parser.Start)
	assert.Equal(t, compiler.DefaultEnd, config.Parser.End)
	assert.Equal(t, compiler.StrategyGeneric, config.Compiler.Strategy)
	assert.True(t, config.Compiler.Dedent)
	assert.Equal(t, hierarchy.ResolveModule, config.Backend.Resolve)
	require.Len(t, config.Backend.Containers, 1)
	assert.Equal(t, hierarchy.NameDirectory, config.Backend.Containers[0].Name)
	assert.Equal(t, ".", config.Backend.Containers[0].Config["path"])
	assert.Equal(t, "localhost:8080", config.Server.Addr)
	assert.Equal(t, 64, config.Server.MaxConnections)
	assert.Equal(t, compiler.DefaultOptions(), config.CompilerOptions())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("STARHP_COMPILER_STRATEGY", "unified")
	t.Setenv("STARHP_LOG_LEVEL", "debug")
	t.Setenv("STARHP_SERVER_MAX_CONNECTIONS", "3")

	config, err := load(t, "")
	require.NoError(t, err)

	assert.Equal(t, compiler.StrategyUnified, config.Compiler.Strategy)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, 3, config.Server.MaxConnections)
	assert.Equal(t, logging.LevelDebug, config.LoggerConfig().Level)
}

func TestLoadYAMLFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "starhp.yaml", `
log:
  format: json
compiler:
  dedent: false
backend:
  containers:
    - name: backends.files.StrictDirectory
      config:
        path: /srv/site
    - name: backends.caches.timestamped.memory.MemoryCache
      config:
        ttl: 30
`)

	config, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "json", config.Log.Format)
	assert.False(t, config.Compiler.Dedent)
	assert.Equal(t, compiler.StrategyGeneric, config.Compiler.Strategy)
	require.Len(t, config.Backend.Containers, 2)
	assert.Equal(t, hierarchy.NameStrictDirectory, config.Backend.Containers[0].Name)
	assert.Equal(t, "/srv/site", config.Backend.Containers[0].Config["path"])
	assert.Equal(t, hierarchy.NameMemoryCache, config.Backend.Containers[1].Name)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "site.yaml", "compiler:\n  strategy: unified\n")
	t.Setenv(EnvConfigFile, path)

	config, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, compiler.StrategyUnified, config.Compiler.Strategy)
}

func TestLoadHCLFile(t *testing.T) {
	isolate(t)
	t.Setenv("STARHP_TEST_ROOT", "/srv")
	path := writeConfig(t, "starhp.hcl", `
compiler {
  strategy = "unified"
}

server {
  addr            = "0.0.0.0:9000"
  max_connections = 10
}

backend {
  container "backends.files.Directory" {
    config = {
      path     = "${env.STARHP_TEST_ROOT}/site"
      encoding = lower("UTF-8")
    }
  }

  container "backends.caches.timestamped.memory.MemoryCache" {
    config = {
      strategy    = "lru"
      max_entries = 8
    }
  }

  container "backends.caches.timestamped.memory.MemoryCache" {}
}
`)

	config, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, compiler.StrategyUnified, config.Compiler.Strategy)
	assert.True(t, config.Compiler.Dedent)
	assert.Equal(t, "0.0.0.0:9000", config.Server.Addr)
	assert.Equal(t, 10, config.Server.MaxConnections)
	assert.Equal(t, "index.star", config.Server.Index)

	require.Len(t, config.Backend.Containers, 3)
	assert.Equal(t, map[string]any{"path": "/srv/site", "encoding": "utf-8"}, config.Backend.Containers[0].Config)
	assert.Equal(t, map[string]any{"strategy": "lru", "max_entries": float64(8)}, config.Backend.Containers[1].Config)
	assert.Empty(t, config.Backend.Containers[2].Config)
}

func TestLoadPreservesDocumentNameCase(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "starhp.yaml",
			content: `
backend:
  containers:
    - name: backends.memory.HashMap
      config:
        documents:
          - name: Index.star
            source: upper
          - name: index.star
            source: lower
`,
		},
		{
			name: "hcl",
			file: "starhp.hcl",
			content: `
backend {
  container "backends.memory.HashMap" {
    config = {
      documents = [
        { name = "Index.star", source = "upper" },
        { name = "index.star", source = "lower" },
      ]
    }
  }
}
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			config, err := load(t, writeConfig(t, tc.file, tc.content))
			require.NoError(t, err)

			c, err := compiler.NewFromOptions(config.CompilerOptions())
			require.NoError(t, err)
			container, err := hierarchy.FromConfig(c, config.Backend, nil, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = container.Close() })

			for name, expected := range map[string]string{"Index.star": "upper", "index.star": "lower"} {
				code, err := backends.Load(container, name)
				require.NoError(t, err, name)
				var out strings.Builder
				for chunk, err := range code.Execute(nil) {
					require.NoError(t, err)
					out.WriteString(chunk)
				}
				assert.Equal(t, expected, out.String())
			}
		})
	}
}

func TestLoadHCLFoundInSearchPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(EnvConfigFile, "")
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".config", "starhp.hcl"),
		[]byte("log {\n  level = \"warn\"\n}\n"), 0o644))

	config, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", config.Log.Level)
}

func TestSetupErrors(t *testing.T) {
	isolate(t)

	testCases := []struct {
		name   string
		file   string
		errMsg string
	}{
		{
			name:   "missing explicit file",
			file:   filepath.Join(t.TempDir(), "missing.yaml"),
			errMsg: "reading config",
		},
		{
			name:   "missing hcl file",
			file:   filepath.Join(t.TempDir(), "missing.hcl"),
			errMsg: "failed to parse HCL config",
		},
		{
			name:   "hcl syntax",
			file:   writeConfig(t, "broken.hcl", "compiler {\n"),
			errMsg: "failed to parse HCL config",
		},
		{
			name:   "hcl unknown block",
			file:   writeConfig(t, "unknown.hcl", "plugins {}\n"),
			errMsg: "failed to decode HCL config",
		},
		{
			name:   "hcl config not an object",
			file:   writeConfig(t, "scalar.hcl", "backend {\n  container \"x\" {\n    config = 3\n  }\n}\n"),
			errMsg: "has to be an object",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Setup(viper.New(), tc.file)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Log:      LogConfig{Level: "info", Format: "text"},
			Parser:   ParserConfig{Start: compiler.DefaultStart, End: compiler.DefaultEnd},
			Compiler: CompilerConfig{Strategy: compiler.StrategyGeneric},
			Backend: hierarchy.BackendConfig{
				Resolve:    hierarchy.ResolveModule,
				Containers: []hierarchy.LayerConfig{{Name: hierarchy.NameDirectory}},
			},
			Server: ServerConfig{Addr: "localhost:8080", Index: "index.star"},
		}
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:   "log",
			mutate: func(c *Config) { c.Log.Level = "loud"; c.Log.Format = "xml" },
			fields: []string{"log.level", "log.format"},
		},
		{
			name:   "parser",
			mutate: func(c *Config) { c.Parser.Start = "(" },
			fields: []string{"parser"},
		},
		{
			name:   "strategy",
			mutate: func(c *Config) { c.Compiler.Strategy = "fast" },
			fields: []string{"compiler.strategy"},
		},
		{
			name:   "resolve",
			mutate: func(c *Config) { c.Backend.Resolve = "magic" },
			fields: []string{"backend.resolve"},
		},
		{
			name:   "no containers",
			mutate: func(c *Config) { c.Backend.Containers = nil },
			fields: []string{"backend.containers"},
		},
		{
			name: "unnamed container",
			mutate: func(c *Config) {
				c.Backend.Containers = append(c.Backend.Containers, hierarchy.LayerConfig{})
			},
			fields: []string{"backend.containers[1].name"},
		},
		{
			name: "server",
			mutate: func(c *Config) {
				c.Server.MaxConnections = -1
				c.Server.Addr = "8080"
				c.Server.Index = "../secret.star"
			},
			fields: []string{"server.max_connections", "server.addr", "server.index"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := valid()
			tc.mutate(config)

			err := Validate(config)
			if len(tc.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var collection *errors.ValidationErrorCollection
			require.True(t, stderrors.As(err, &collection))
			fields := make([]string, 0, len(collection.Errors))
			for _, fieldErr := range collection.Errors {
				fields = append(fields, fieldErr.Field())
			}
			assert.Equal(t, tc.fields, fields)
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("STARHP_COMPILER_STRATEGY", "fast")

	config, err := load(t, "")
	require.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "compiler.strategy")
}
