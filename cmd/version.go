package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/starhp/internal/version"
)

func newVersionCommand() *cobra.Command {
	var (
		format string
		short  bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the version of starhp, the git commit, the build time and the
versions of Go and Starlark it was built with.

Examples:
  starhp version
  starhp version --short
  starhp version -o json`,
		Args: cobra.NoArgs,
		// version works without a valid configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(out, version.GetShortVersion())

				return err
			}

			info := version.GetBuildInfo()

			return writeOutput(out, format, info, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, version.GetDetailedVersion())

				return err
			})
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "show the version only")
	addOutputFlag(cmd, &format)

	return cmd
}
