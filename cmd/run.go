package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
)

// stdinName selects stdin instead of the backend.
const stdinName = "-"

func newRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [name|-] [args...]",
		Short: "Render a document",
		Long: `Render the document stored under name in the backend and write the output
to stdout. Without a name or with "-" the document is read from stdin.

The document sees argv, the name followed by the arguments, and argc, the
length of argv. Put "--" before arguments starting with a dash.

Examples:
  starhp run index.star
  starhp run report.star 2024 --config site.hcl
  echo '<?star echo(argc) ?>' | starhp run`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := stdinName
			if len(args) > 0 {
				name, args = args[0], args[1:]
			}

			code, err := a.load(cmd, name)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), code, argvBindings(name, args))
		},
	}
}

func (a *app) load(cmd *cobra.Command, name string) (compiler.Code, error) {
	if name == stdinName {
		return a.compiler.CompileReader(cmd.InOrStdin(), compiler.StringOrigin())
	}

	container, err := a.backend()
	if err != nil {
		return nil, err
	}
	defer container.Close()

	return backends.Load(container, name)
}

func argvBindings(name string, args []string) starlark.StringDict {
	argv := make([]starlark.Value, 0, len(args)+1)
	argv = append(argv, starlark.String(name))
	for _, arg := range args {
		argv = append(argv, starlark.String(arg))
	}

	return starlark.StringDict{
		"argv": starlark.NewList(argv),
		"argc": starlark.MakeInt(len(argv)),
	}
}

// render streams the output of code to w.
func render(w io.Writer, code compiler.Code, bindings starlark.StringDict) error {
	for chunk, err := range code.Execute(bindings) {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	return nil
}
