package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/logging"
)

var logFormats = []string{"text", "json"}

// Validate checks config and reports every problem at once.
func Validate(config *Config) error {
	var result errors.ValidationErrorCollection

	validateLog(&config.Log, &result)
	validateParser(&config.Parser, &result)
	validateCompiler(&config.Compiler, &result)
	validateBackend(&config.Backend, &result)
	validateServer(&config.Server, &result)

	if result.HasErrors() {
		return &result
	}

	return nil
}

func validateLog(config *LogConfig, result *errors.ValidationErrorCollection) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.AddField("log.level", config.Level, err.Error(),
			"Use one of debug, info, warn, error")
	}
	if !slices.Contains(logFormats, config.Format) {
		result.AddField("log.format", config.Format, "unknown log format",
			"Available formats: "+strings.Join(logFormats, ", "))
	}
}

func validateParser(config *ParserConfig, result *errors.ValidationErrorCollection) {
	if _, err := compiler.NewRegexParser(config.Start, config.End); err != nil {
		result.AddField("parser", fmt.Sprintf("%s ... %s", config.Start, config.End), err.Error(),
			"Delimiters are RE2 regular expressions",
			`The defaults are <\?star\s and \s\?>`)
	}
}

func validateCompiler(config *CompilerConfig, result *errors.ValidationErrorCollection) {
	switch config.Strategy {
	case compiler.StrategyGeneric, compiler.StrategyUnified:
	default:
		result.AddField("compiler.strategy", config.Strategy, "unknown compiler strategy",
			"Use 'generic' to run each code section on its own",
			"Use 'unified' to compile the document into one program")
	}
}

func validateBackend(config *hierarchy.BackendConfig, result *errors.ValidationErrorCollection) {
	switch config.Resolve {
	case "", hierarchy.ResolveModule, hierarchy.ResolvePath:
	default:
		result.AddField("backend.resolve", config.Resolve, "unknown resolve mode",
			"Use 'module' for built-in containers",
			"Use 'path' to load containers from Go plugins")
	}

	if len(config.Containers) == 0 {
		result.AddField("backend.containers", nil, "hierarchy has no containers",
			"Start with a "+hierarchy.NameDirectory+" container")
	}
	for i, layer := range config.Containers {
		if layer.Name == "" {
			result.AddField(fmt.Sprintf("backend.containers[%d].name", i), layer.Name, "container without a name")
		}
	}
}

func validateServer(config *ServerConfig, result *errors.ValidationErrorCollection) {
	if config.MaxConnections < 0 {
		result.AddField("server.max_connections", config.MaxConnections, "must not be negative",
			"Use 0 to accept any number of connections")
	}
	if config.Addr != "" {
		if _, _, err := net.SplitHostPort(config.Addr); err != nil {
			result.AddField("server.addr", config.Addr, err.Error(),
				"Use host:port, for example localhost:8080")
		}
	}
	if config.Index != "" && strings.Contains(config.Index, "..") {
		result.AddField("server.index", config.Index, "index must not leave the served hierarchy")
	}
}
