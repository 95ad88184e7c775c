// Package graph defines the serialized model format the evaluation engine
// executes: a versioned, flat computation graph over named input tensors,
// producing named output tensors. Model bytes are the JSON encoding of a
// Graph. The package also carries the float32 interpreter that backs the
// CPU execution provider.
//
// Nodes reference their operands by index and may only refer to earlier
// nodes, so a valid graph is already in execution order. A force model is
// expected to produce two outputs: a scalar "energy" and a per-particle
// "forces" tensor; that contract is enforced by the session, not here.
package graph

import (
	"encoding/json"
	"fmt"
)

const Version = 1

// Supported operations.
const (
	OpInput  = "input"  // named tensor supplied by the session
	OpConst  = "const"  // tensor literal carried by the model
	OpCast   = "cast"   // identity on float32 tensors; int inputs arrive cast
	OpAdd    = "add"    // elementwise sum, with broadcasting
	OpSub    = "sub"    // elementwise difference, with broadcasting
	OpMul    = "mul"    // elementwise product, with broadcasting
	OpNeg    = "neg"    // elementwise negation
	OpSqnorm = "sqnorm" // squared norm over the last axis: [n, d] -> [n]
	OpSum    = "sum"    // sum of all elements -> [1]
	OpWrap   = "wrap"   // fold positions into a periodic box: (pos, box) -> pos
)

var opArity = map[string]int{
	OpInput:  0,
	OpConst:  0,
	OpCast:   1,
	OpAdd:    2,
	OpSub:    2,
	OpMul:    2,
	OpNeg:    1,
	OpSqnorm: 1,
	OpSum:    1,
	OpWrap:   2,
}

// Node is a single operation. Name is set for OpInput, Value and Dims for
// OpConst, Args for everything else.
type Node struct {
	Op    string    `json:"op"`
	Name  string    `json:"name,omitempty"`
	Args  []int     `json:"args,omitempty"`
	Value []float32 `json:"value,omitempty"`
	Dims  []int     `json:"dims,omitempty"`
}

type Graph struct {
	Version int            `json:"version"`
	Nodes   []Node         `json:"nodes"`
	Outputs map[string]int `json:"outputs"`
}

// Parse decodes model bytes and validates the graph structure.
func Parse(model []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(model, &g); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Encode returns the model bytes for the graph.
func (g *Graph) Encode() ([]byte, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(g)
}

// InputNames returns the names of all OpInput nodes, in node order.
func (g *Graph) InputNames() []string {
	var names []string
	for _, n := range g.Nodes {
		if n.Op == OpInput {
			names = append(names, n.Name)
		}
	}
	return names
}

func (g *Graph) validate() error {
	if g.Version != Version {
		return fmt.Errorf("unsupported model version %d", g.Version)
	}
	if len(g.Outputs) == 0 {
		return fmt.Errorf("model declares no outputs")
	}
	for i, n := range g.Nodes {
		arity, ok := opArity[n.Op]
		if !ok {
			return fmt.Errorf("node %d: unknown op %q", i, n.Op)
		}
		if len(n.Args) != arity {
			return fmt.Errorf("node %d: op %s takes %d args, got %d", i, n.Op, arity, len(n.Args))
		}
		for _, arg := range n.Args {
			if arg < 0 || arg >= i {
				return fmt.Errorf("node %d: arg %d out of range", i, arg)
			}
		}
		switch n.Op {
		case OpInput:
			if n.Name == "" {
				return fmt.Errorf("node %d: input without a name", i)
			}
		case OpConst:
			size := 1
			for _, d := range n.Dims {
				size *= d
			}
			if size != len(n.Value) {
				return fmt.Errorf("node %d: const dims cover %d values, got %d", i, size, len(n.Value))
			}
		}
	}
	for name, id := range g.Outputs {
		if id < 0 || id >= len(g.Nodes) {
			return fmt.Errorf("output %s: node %d out of range", name, id)
		}
	}
	return nil
}
