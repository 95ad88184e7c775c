package serialize

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"nnforce/internal/force"
)

const documentVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported document version")

// Serialize renders a force descriptor into a document tree. Every ordered
// field keeps its order; the model bytes are hex encoded; tensor values
// are written as decimal text with enough precision to round-trip exactly.
func Serialize(f *force.Force) *Node {
	root := NewNode("Force")
	root.SetInt("version", documentVersion)
	root.SetString("model", hex.EncodeToString(f.Model()))
	root.SetInt("forceGroup", f.ForceGroup())
	root.SetBool("usesPeriodic", f.UsesPeriodicBoundaryConditions())

	indices := root.Child("ParticleIndices")
	for _, index := range f.ParticleIndices() {
		indices.Child("Particle").SetInt("index", index)
	}

	inputs := root.Child("Inputs")
	for _, in := range f.Inputs() {
		var node *Node
		switch in.DType() {
		case force.Int32:
			node = inputs.Child("IntegerInput")
		case force.Float32:
			node = inputs.Child("FloatInput")
		}
		node.SetString("name", in.Name())
		shape := node.Child("Shape")
		for _, dim := range in.Shape() {
			shape.Child("Dim").SetInt("d", dim)
		}
		values := node.Child("Values")
		if in.DType() == force.Int32 {
			for _, v := range in.IntValues() {
				values.Child("Value").SetInt("v", int(v))
			}
		} else {
			for _, v := range in.FloatValues() {
				values.Child("Value").SetFloat("v", float64(v), 32)
			}
		}
	}

	parameters := root.Child("GlobalParameters")
	for _, p := range f.GlobalParameters() {
		parameters.Child("Parameter").SetString("name", p.Name).SetFloat("default", p.DefaultValue, 64)
	}

	properties := root.Child("Properties")
	props := f.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		properties.Child("Property").SetString("name", name).SetString("value", props[name])
	}
	return root
}

// Deserialize reconstructs a force descriptor from a document tree. The
// round trip through Serialize is exact for every field.
func Deserialize(root *Node) (*force.Force, error) {
	version, err := root.GetInt("version")
	if err != nil {
		return nil, err
	}
	if version != documentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	modelHex, err := root.GetString("model")
	if err != nil {
		return nil, err
	}
	model, err := hex.DecodeString(modelHex)
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	f, err := force.New(model, nil)
	if err != nil {
		return nil, err
	}

	group, err := root.GetInt("forceGroup")
	if err != nil {
		return nil, err
	}
	f.SetForceGroup(group)
	periodic, err := root.GetBool("usesPeriodic")
	if err != nil {
		return nil, err
	}
	f.SetUsesPeriodicBoundaryConditions(periodic)

	if node, ok := root.Find("ParticleIndices"); ok && len(node.Children) > 0 {
		indices := make([]int, 0, len(node.Children))
		for _, particle := range node.Children {
			index, err := particle.GetInt("index")
			if err != nil {
				return nil, err
			}
			indices = append(indices, index)
		}
		f.SetParticleIndices(indices)
	}

	if node, ok := root.Find("Inputs"); ok {
		for _, child := range node.Children {
			input, err := deserializeInput(child)
			if err != nil {
				return nil, err
			}
			f.AddInput(input)
		}
	}

	if node, ok := root.Find("GlobalParameters"); ok {
		for _, parameter := range node.Children {
			name, err := parameter.GetString("name")
			if err != nil {
				return nil, err
			}
			defaultValue, err := parameter.GetFloat("default", 64)
			if err != nil {
				return nil, err
			}
			f.AddGlobalParameter(name, defaultValue)
		}
	}

	if node, ok := root.Find("Properties"); ok {
		for _, property := range node.Children {
			name, err := property.GetString("name")
			if err != nil {
				return nil, err
			}
			value, err := property.GetString("value")
			if err != nil {
				return nil, err
			}
			if err := f.SetProperty(name, value); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func deserializeInput(node *Node) (*force.Input, error) {
	name, err := node.GetString("name")
	if err != nil {
		return nil, err
	}

	var shape []int
	if shapeNode, ok := node.Find("Shape"); ok {
		for _, dim := range shapeNode.Children {
			d, err := dim.GetInt("d")
			if err != nil {
				return nil, err
			}
			shape = append(shape, d)
		}
	}
	valuesNode, ok := node.Find("Values")
	if !ok {
		return nil, fmt.Errorf("input %s: no Values node", name)
	}

	switch node.Name {
	case "IntegerInput":
		values := make([]int32, 0, len(valuesNode.Children))
		for _, value := range valuesNode.Children {
			v, err := value.GetInt("v")
			if err != nil {
				return nil, err
			}
			values = append(values, int32(v))
		}
		return force.NewIntegerInput(name, values, shape), nil
	case "FloatInput":
		values := make([]float32, 0, len(valuesNode.Children))
		for _, value := range valuesNode.Children {
			v, err := value.GetFloat("v", 32)
			if err != nil {
				return nil, err
			}
			values = append(values, float32(v))
		}
		return force.NewFloatInput(name, values, shape), nil
	}
	return nil, fmt.Errorf("unknown input node %s", node.Name)
}

// Marshal serializes a force straight to document XML.
func Marshal(f *force.Force) ([]byte, error) {
	return EncodeXML(Serialize(f))
}

// Unmarshal reconstructs a force from document XML.
func Unmarshal(data []byte) (*force.Force, error) {
	root, err := DecodeXML(data)
	if err != nil {
		return nil, err
	}
	return Deserialize(root)
}
