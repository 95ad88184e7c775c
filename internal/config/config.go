// Package config loads force definitions from HCL files. A definition
// names a serialized model graph on disk plus the provider, subset and
// input settings to construct a Force from it.
package config

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"nnforce/internal/backend"
	"nnforce/internal/ctxlog"
	"nnforce/internal/force"
)

type fileRoot struct {
	Forces []*forceBlock `hcl:"force,block"`
}

type forceBlock struct {
	Name       string            `hcl:"name,label"`
	ModelFile  string            `hcl:"model_file"`
	Provider   *string           `hcl:"provider"`
	Periodic   *bool             `hcl:"periodic"`
	ForceGroup *int              `hcl:"force_group"`
	Particles  []int             `hcl:"particles,optional"`
	Properties map[string]string `hcl:"properties,optional"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
	Inputs     []*inputBlock     `hcl:"input,block"`
}

type parameterBlock struct {
	Name    string  `hcl:"name,label"`
	Default float64 `hcl:"default"`
}

type inputBlock struct {
	Name   string    `hcl:"name,label"`
	Type   string    `hcl:"type"`
	Shape  []int     `hcl:"shape"`
	Values cty.Value `hcl:"values"`
}

// Definition is a fully decoded force block, ready to be realized.
type Definition struct {
	Name  string
	block *forceBlock
	dir   string
}

// Load parses the HCL file at path and returns its force definitions.
func Load(ctx context.Context, path string) ([]*Definition, error) {
	logger := ctxlog.From(ctx)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", path, diags)
	}

	dir := filepath.Dir(path)
	defs := make([]*Definition, 0, len(root.Forces))
	seen := make(map[string]struct{})
	for _, block := range root.Forces {
		if _, dup := seen[block.Name]; dup {
			return nil, fmt.Errorf("duplicate force definition %q in %s", block.Name, path)
		}
		seen[block.Name] = struct{}{}
		defs = append(defs, &Definition{Name: block.Name, block: block, dir: dir})
	}

	logger.Debug("loaded force definitions", "path", path, "count", len(defs))
	return defs, nil
}

// Realize builds a Force from the definition, reading the model file
// relative to the directory of the config file it came from.
func (d *Definition) Realize() (*force.Force, error) {
	modelPath := d.block.ModelFile
	if !filepath.IsAbs(modelPath) {
		modelPath = filepath.Join(d.dir, modelPath)
	}
	model, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("force %q: read model: %w", d.Name, err)
	}

	f, err := force.New(model, d.block.Properties)
	if err != nil {
		return nil, fmt.Errorf("force %q: %w", d.Name, err)
	}

	if d.block.Provider != nil {
		provider, err := backend.ParseProvider(*d.block.Provider)
		if err != nil {
			return nil, fmt.Errorf("force %q: %w", d.Name, err)
		}
		f.SetProvider(provider)
	}
	if d.block.Periodic != nil {
		f.SetUsesPeriodicBoundaryConditions(*d.block.Periodic)
	}
	if d.block.ForceGroup != nil {
		f.SetForceGroup(*d.block.ForceGroup)
	}
	f.SetParticleIndices(d.block.Particles)

	for _, p := range d.block.Parameters {
		f.AddGlobalParameter(p.Name, p.Default)
	}

	for _, in := range d.block.Inputs {
		input, err := realizeInput(in)
		if err != nil {
			return nil, fmt.Errorf("force %q: %w", d.Name, err)
		}
		f.AddInput(input)
	}

	return f, nil
}

func realizeInput(block *inputBlock) (*force.Input, error) {
	list, err := convert.Convert(block.Values, cty.List(cty.Number))
	if err != nil {
		return nil, fmt.Errorf("input %q: values must be a list of numbers: %w", block.Name, err)
	}

	switch block.Type {
	case "integer":
		var values []int32
		for it := list.ElementIterator(); it.Next(); {
			_, v := it.Element()
			n, acc := v.AsBigFloat().Int64()
			if acc != big.Exact {
				return nil, fmt.Errorf("input %q: value %s is not an integer", block.Name, v.AsBigFloat().String())
			}
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("input %q: value %d overflows int32", block.Name, n)
			}
			values = append(values, int32(n))
		}
		return force.NewIntegerInput(block.Name, values, block.Shape), nil
	case "float":
		var values []float32
		for it := list.ElementIterator(); it.Next(); {
			_, v := it.Element()
			f, _ := v.AsBigFloat().Float32()
			values = append(values, f)
		}
		return force.NewFloatInput(block.Name, values, block.Shape), nil
	default:
		return nil, fmt.Errorf("input %q: unknown type %q (want integer or float)", block.Name, block.Type)
	}
}
