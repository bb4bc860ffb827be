package cmd

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/config"
	engineerrors "github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/hierarchy"
	"github.com/conneroisu/starhp/internal/logging"
)

// ExitError carries a process exit code other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps the result of Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}

	return 1
}

// app is the state shared by all commands of one invocation.
type app struct {
	viper    *viper.Viper
	cfgFile  string
	config   *config.Config
	logger   logging.Logger
	compiler *compiler.Compiler
	registry *hierarchy.Registry
}

// setup loads the configuration and builds the logger and the compiler.
func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Setup(a.viper, a.cfgFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.viper)
	if err != nil {
		return err
	}
	a.config = cfg

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = cmd.ErrOrStderr()
	a.logger = logging.NewLogger(loggerConfig)

	a.compiler, err = compiler.NewFromOptions(cfg.CompilerOptions())
	if err != nil {
		return err
	}
	a.logger.Debug(cmd.Context(), "configuration loaded",
		"config_file", a.viper.ConfigFileUsed(),
		"strategy", cfg.Compiler.Strategy,
		"containers", len(cfg.Backend.Containers))

	return nil
}

// backend builds the configured hierarchy. The caller closes it.
func (a *app) backend() (backends.Container, error) {
	container, err := hierarchy.FromConfig(a.compiler, a.config.Backend, a.registry, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend: %w", err)
	}

	return container, nil
}

// report logs err through an error handler. Before setup built the
// configured logger, a default one writing to stderr is used.
func (a *app) report(cmd *cobra.Command, err error) {
	logger := a.logger
	if logger == nil {
		cfg := logging.DefaultConfig()
		cfg.Output = cmd.ErrOrStderr()
		logger = logging.NewLogger(cfg)
	}
	engineerrors.NewErrorHandler(logger).Handle(cmd.Context(), err)
}

// newRootCommand builds the starhp command tree and the state its commands
// share.
func newRootCommand() (*cobra.Command, *app) {
	a := &app{viper: viper.New(), registry: hierarchy.DefaultRegistry()}

	rootCmd := &cobra.Command{
		Use:   "starhp",
		Short: "Render documents with embedded Starlark",
		Long: `starhp renders text documents containing Starlark code sections framed by
<?star ... ?>. Documents come from a configurable backend hierarchy of
directories, zip files and caches.

Configuration is read from --config, the STARHP_CONFIG environment variable,
~/.config/starhp.* or /etc/starhp.*; YAML, TOML, JSON and HCL are accepted.
Any setting can be overridden with STARHP_<SECTION>_<OPTION>.

Quick Start:
  starhp run index.star          Render a document
  starhp backend list            List the documents of the backend
  starhp serve                   Render documents over HTTP`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ~/.config/starhp.* or /etc/starhp.*, also STARHP_CONFIG)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.String("strategy", compiler.StrategyGeneric, "code builder (generic, unified)")
	bindFlags(a.viper, flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
		"strategy":   "compiler.strategy",
	})

	rootCmd.AddCommand(
		newRunCommand(a),
		newBackendCommand(a),
		newWatchCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)

	return rootCmd, a
}

// Execute runs the command tree with the process arguments and reports a
// failure on stderr.
func Execute() error {
	rootCmd, a := newRootCommand()

	return executeRoot(rootCmd, a)
}

// execute runs a fresh command tree with args and the given streams.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	rootCmd, a := newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	return executeRoot(rootCmd, a)
}

func executeRoot(rootCmd *cobra.Command, a *app) error {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		a.report(cmd, err)
	}

	return err
}
