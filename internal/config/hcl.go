package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclConfig is the HCL form of Config:
//
//	compiler { strategy = "unified" }
//	backend {
//	  container "backends.files.Directory" {
//	    config = { path = "${env.HOME}/site" }
//	  }
//	}
type hclConfig struct {
	Log      *hclLog      `hcl:"log,block"`
	Parser   *hclParser   `hcl:"parser,block"`
	Compiler *hclCompiler `hcl:"compiler,block"`
	Backend  *hclBackend  `hcl:"backend,block"`
	Server   *hclServer   `hcl:"server,block"`
}

type hclLog struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type hclParser struct {
	Start *string `hcl:"start,optional"`
	End   *string `hcl:"end,optional"`
}

type hclCompiler struct {
	Strategy *string `hcl:"strategy,optional"`
	Dedent   *bool   `hcl:"dedent,optional"`
}

type hclBackend struct {
	Resolve    *string        `hcl:"resolve,optional"`
	Containers []hclContainer `hcl:"container,block"`
}

type hclContainer struct {
	Name   string    `hcl:"name,label"`
	Config cty.Value `hcl:"config,optional"`
}

type hclServer struct {
	Addr           *string `hcl:"addr,optional"`
	MaxConnections *int    `hcl:"max_connections,optional"`
	Index          *string `hcl:"index,optional"`
	ContentType    *string `hcl:"content_type,optional"`
}

// evalContext exposes the environment as the env object and a few string
// functions.
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	envVal := cty.MapValEmpty(cty.String)
	if len(env) > 0 {
		envVal = cty.MapVal(env)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": envVal},
		Functions: map[string]function.Function{
			"upper":     stdlib.UpperFunc,
			"lower":     stdlib.LowerFunc,
			"trimspace": stdlib.TrimSpaceFunc,
			"coalesce":  stdlib.CoalesceFunc,
		},
	}
}

// ReadHCL parses the HCL config at path into nested settings as Viper
// expects them. Only attributes present in the file are returned.
func ReadHCL(path string) (map[string]any, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL config %s: %s", path, diags.Error())
	}

	var parsed hclConfig
	diags = gohcl.DecodeBody(file.Body, evalContext(), &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL config %s: %s", path, diags.Error())
	}

	return parsed.settings()
}

func (c *hclConfig) settings() (map[string]any, error) {
	out := map[string]any{}

	if c.Log != nil {
		section := map[string]any{}
		setString(section, "level", c.Log.Level)
		setString(section, "format", c.Log.Format)
		out["log"] = section
	}
	if c.Parser != nil {
		section := map[string]any{}
		setString(section, "start", c.Parser.Start)
		setString(section, "end", c.Parser.End)
		out["parser"] = section
	}
	if c.Compiler != nil {
		section := map[string]any{}
		setString(section, "strategy", c.Compiler.Strategy)
		if c.Compiler.Dedent != nil {
			section["dedent"] = *c.Compiler.Dedent
		}
		out["compiler"] = section
	}
	if c.Server != nil {
		section := map[string]any{}
		setString(section, "addr", c.Server.Addr)
		setString(section, "index", c.Server.Index)
		setString(section, "content_type", c.Server.ContentType)
		if c.Server.MaxConnections != nil {
			section["max_connections"] = *c.Server.MaxConnections
		}
		out["server"] = section
	}
	if c.Backend != nil {
		section := map[string]any{}
		setString(section, "resolve", c.Backend.Resolve)
		if len(c.Backend.Containers) > 0 {
			containers := make([]any, 0, len(c.Backend.Containers))
			for _, container := range c.Backend.Containers {
				config, err := ctyToNative(container.Config)
				if err != nil {
					return nil, fmt.Errorf("container %q: %w", container.Name, err)
				}
				layer := map[string]any{"name": container.Name}
				if config != nil {
					m, ok := config.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("container %q: config has to be an object", container.Name)
					}
					layer["config"] = m
				}
				containers = append(containers, layer)
			}
			section["containers"] = containers
		}
		out["backend"] = section
	}

	return out, nil
}

func setString(section map[string]any, key string, value *string) {
	if value != nil {
		section[key] = *value
	}
}

// ctyToNative recursively converts a cty.Value to its most natural Go
// counterpart. Numbers become float64.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()

	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number to float64: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute '%s': %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported value of type %s", ty.FriendlyName())
	}
}
