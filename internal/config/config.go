// Package config provides configuration management for starhp using Viper
// for loading from files, environment variables and command-line flags.
//
// Files are searched in ~/.config and /etc under the name "starhp" with any
// extension Viper understands. Files ending in .hcl are decoded with the
// HCL toolkit and merged into the same settings. Every scalar setting can be
// overridden with a STARHP_ prefixed environment variable, for example
// STARHP_COMPILER_STRATEGY=unified.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STARHP"

// EnvConfigFile names a config file when no flag is given.
const EnvConfigFile = "STARHP_CONFIG"

type Config struct {
	Log      LogConfig               `mapstructure:"log" yaml:"log" json:"log"`
	Parser   ParserConfig            `mapstructure:"parser" yaml:"parser" json:"parser"`
	Compiler CompilerConfig          `mapstructure:"compiler" yaml:"compiler" json:"compiler"`
	Backend  hierarchy.BackendConfig `mapstructure:"backend" yaml:"backend" json:"backend"`
	Server   ServerConfig            `mapstructure:"server" yaml:"server" json:"server"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type ParserConfig struct {
	Start string `mapstructure:"start" yaml:"start" json:"start"`
	End   string `mapstructure:"end" yaml:"end" json:"end"`
}

type CompilerConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`
	Dedent   bool   `mapstructure:"dedent" yaml:"dedent" json:"dedent"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr" json:"addr"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections"`
	Index          string `mapstructure:"index" yaml:"index" json:"index"`
	ContentType    string `mapstructure:"content_type" yaml:"content_type" json:"content_type"`
}

// SearchPaths are the directories searched for a config file.
func SearchPaths() []string {
	paths := []string{}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config"))
	}

	return append(paths, "/etc")
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("parser.start", compiler.DefaultStart)
	v.SetDefault("parser.end", compiler.DefaultEnd)
	v.SetDefault("compiler.strategy", compiler.StrategyGeneric)
	v.SetDefault("compiler.dedent", true)
	v.SetDefault("backend.resolve", hierarchy.ResolveModule)
	v.SetDefault("backend.containers", []map[string]any{
		{"name": hierarchy.NameDirectory, "config": map[string]any{"path": "."}},
	})
	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("server.max_connections", 64)
	v.SetDefault("server.index", "index.star")
	v.SetDefault("server.content_type", "text/html; charset=utf-8")
}

// Setup prepares v: defaults, environment overrides and the config file.
// An explicit file must exist; a missing file in the search paths is not
// an error.
func Setup(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = os.Getenv(EnvConfigFile)
	}
	if file == "" {
		file = findHCL(SearchPaths())
	}

	switch {
	case file == "":
		v.SetConfigName("starhp")
		for _, path := range SearchPaths() {
			v.AddConfigPath(path)
		}
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !stderrors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	case strings.EqualFold(filepath.Ext(file), ".hcl"):
		settings, err := ReadHCL(file)
		if err != nil {
			return err
		}
		if err := v.MergeConfigMap(settings); err != nil {
			return fmt.Errorf("merging %s: %w", file, err)
		}
	default:
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	return nil
}

func findHCL(dirs []string) string {
	for _, dir := range dirs {
		path := filepath.Join(dir, "starhp.hcl")
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}

	return ""
}

// Load decodes and validates the settings of v.
func Load(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// CompilerOptions returns the options for the configured compiler.
func (c *Config) CompilerOptions() compiler.Options {
	return compiler.Options{
		Start:    c.Parser.Start,
		End:      c.Parser.End,
		Strategy: c.Compiler.Strategy,
		Dedent:   c.Compiler.Dedent,
	}
}

// LoggerConfig returns the logging configuration. The level was checked by
// Validate.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		cfg.Level = level
	}
	cfg.Format = c.Log.Format

	return cfg
}
