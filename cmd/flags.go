package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Output formats of listing commands.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

var outputFormats = []string{FormatTable, FormatJSON, FormatYAML}

// bindFlags binds flags to viper configuration keys
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) {
	for flagName, configKey := range bindings {
		if flag := flags.Lookup(flagName); flag != nil {
			_ = v.BindPFlag(configKey, flag)
		}
	}
}

// enumValue is a string flag restricted to a fixed set of values.
type enumValue struct {
	value   *string
	allowed []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(value *string, def string, allowed ...string) *enumValue {
	*value = def

	return &enumValue{value: value, allowed: allowed}
}

func (e *enumValue) String() string {
	return *e.value
}

func (e *enumValue) Set(val string) error {
	if !slices.Contains(e.allowed, val) {
		return fmt.Errorf("must be one of: %s", strings.Join(e.allowed, ", "))
	}
	*e.value = val

	return nil
}

func (e *enumValue) Type() string {
	return "string"
}

// addOutputFlag adds the -o/--output format flag.
func addOutputFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().VarP(newEnumValue(format, FormatTable, outputFormats...), "output", "o",
		"Output format ("+strings.Join(outputFormats, "|")+")")
}

// writeOutput encodes data as JSON or YAML, or calls table for the table
// format.
func writeOutput(w io.Writer, format string, data any, table func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		return encoder.Encode(data)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return err
		}

		return encoder.Close()
	default:
		return table(w)
	}
}
