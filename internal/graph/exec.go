package graph

import (
	"fmt"
	"math"

	"nnforce/internal/binding"
)

// Tensor is a float32 intermediate or output value.
type Tensor struct {
	Dims []int
	Data []float32
}

func (t *Tensor) isScalar() bool {
	return len(t.Data) == 1
}

// Run executes the graph against the bound inputs and returns every
// declared output. Input tensors alias the binding buffers directly when
// the binding is float32, so the caller's per-step writes are visible
// without copying; int32 bindings are cast on read.
func (g *Graph) Run(inputs map[string]*binding.Binding) (map[string]*Tensor, error) {
	values := make([]*Tensor, len(g.Nodes))
	for i, n := range g.Nodes {
		t, err := g.eval(n, values, inputs)
		if err != nil {
			return nil, fmt.Errorf("node %d (%s): %w", i, n.Op, err)
		}
		values[i] = t
	}

	outputs := make(map[string]*Tensor, len(g.Outputs))
	for name, id := range g.Outputs {
		outputs[name] = values[id]
	}
	return outputs, nil
}

func (g *Graph) eval(n Node, values []*Tensor, inputs map[string]*binding.Binding) (*Tensor, error) {
	switch n.Op {
	case OpInput:
		b, ok := inputs[n.Name]
		if !ok {
			return nil, fmt.Errorf("no binding for input %q", n.Name)
		}
		return fromBinding(b), nil
	case OpConst:
		dims := n.Dims
		if dims == nil {
			dims = []int{len(n.Value)}
		}
		return &Tensor{Dims: dims, Data: n.Value}, nil
	case OpCast, OpNeg:
		x := values[n.Args[0]]
		out := &Tensor{Dims: x.Dims, Data: make([]float32, len(x.Data))}
		if n.Op == OpCast {
			copy(out.Data, x.Data)
		} else {
			for i, v := range x.Data {
				out.Data[i] = -v
			}
		}
		return out, nil
	case OpAdd, OpSub, OpMul:
		return broadcast(n.Op, values[n.Args[0]], values[n.Args[1]])
	case OpSqnorm:
		return sqnorm(values[n.Args[0]])
	case OpSum:
		x := values[n.Args[0]]
		var total float64
		for _, v := range x.Data {
			total += float64(v)
		}
		return &Tensor{Dims: []int{1}, Data: []float32{float32(total)}}, nil
	case OpWrap:
		return wrap(values[n.Args[0]], values[n.Args[1]])
	}
	return nil, fmt.Errorf("unknown op %q", n.Op)
}

func fromBinding(b *binding.Binding) *Tensor {
	dims := make([]int, len(b.Dims))
	for i, d := range b.Dims {
		dims[i] = int(d)
	}
	if b.DType == binding.Int32 {
		data := make([]float32, len(b.Ints))
		for i, v := range b.Ints {
			data[i] = float32(v)
		}
		return &Tensor{Dims: dims, Data: data}
	}
	return &Tensor{Dims: dims, Data: b.Floats}
}

// broadcast applies a binary op elementwise. Operands may have identical
// shapes, one may be a scalar, or a [n] vector may pair with an [n, d]
// tensor, in which case the vector value applies across each row.
func broadcast(op string, a, b *Tensor) (*Tensor, error) {
	apply := func(x, y float32) float32 {
		switch op {
		case OpAdd:
			return x + y
		case OpSub:
			return x - y
		default:
			return x * y
		}
	}

	switch {
	case len(a.Data) == len(b.Data):
		out := &Tensor{Dims: a.Dims, Data: make([]float32, len(a.Data))}
		for i := range a.Data {
			out.Data[i] = apply(a.Data[i], b.Data[i])
		}
		return out, nil
	case b.isScalar():
		out := &Tensor{Dims: a.Dims, Data: make([]float32, len(a.Data))}
		for i := range a.Data {
			out.Data[i] = apply(a.Data[i], b.Data[0])
		}
		return out, nil
	case a.isScalar():
		out := &Tensor{Dims: b.Dims, Data: make([]float32, len(b.Data))}
		for i := range b.Data {
			out.Data[i] = apply(a.Data[0], b.Data[i])
		}
		return out, nil
	case rowBroadcastable(a, b):
		return rowBroadcast(apply, b, a, false)
	case rowBroadcastable(b, a):
		return rowBroadcast(apply, a, b, true)
	}
	return nil, fmt.Errorf("incompatible shapes %v and %v", a.Dims, b.Dims)
}

// rowBroadcastable reports whether vec is a [n] vector matching the rows of
// the [n, d] tensor t.
func rowBroadcastable(vec, t *Tensor) bool {
	return len(vec.Dims) == 1 && len(t.Dims) == 2 && vec.Dims[0] == t.Dims[0]
}

func rowBroadcast(apply func(x, y float32) float32, t, vec *Tensor, vecSecond bool) (*Tensor, error) {
	d := t.Dims[1]
	out := &Tensor{Dims: t.Dims, Data: make([]float32, len(t.Data))}
	for i := range t.Data {
		v := vec.Data[i/d]
		if vecSecond {
			out.Data[i] = apply(t.Data[i], v)
		} else {
			out.Data[i] = apply(v, t.Data[i])
		}
	}
	return out, nil
}

func sqnorm(x *Tensor) (*Tensor, error) {
	if len(x.Dims) != 2 {
		return nil, fmt.Errorf("sqnorm needs a rank-2 operand, got %v", x.Dims)
	}
	n, d := x.Dims[0], x.Dims[1]
	out := &Tensor{Dims: []int{n}, Data: make([]float32, n)}
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < d; j++ {
			v := float64(x.Data[i*d+j])
			sum += v * v
		}
		out.Data[i] = float32(sum)
	}
	return out, nil
}

// wrap folds each position into the periodic box. Box rows are lattice
// vectors in reduced form, so folding subtracts an integer multiple of each
// row, last row first.
func wrap(pos, box *Tensor) (*Tensor, error) {
	if len(pos.Dims) != 2 || pos.Dims[1] != 3 {
		return nil, fmt.Errorf("wrap needs positions shaped [n, 3], got %v", pos.Dims)
	}
	if len(box.Data) != 9 {
		return nil, fmt.Errorf("wrap needs a [3, 3] box, got %v", box.Dims)
	}
	out := &Tensor{Dims: pos.Dims, Data: make([]float32, len(pos.Data))}
	copy(out.Data, pos.Data)
	n := pos.Dims[0]
	for i := 0; i < n; i++ {
		p := out.Data[3*i : 3*i+3]
		for axis := 2; axis >= 0; axis-- {
			diag := box.Data[3*axis+axis]
			if diag == 0 {
				return nil, fmt.Errorf("box has zero-length vector on axis %d", axis)
			}
			k := float32(math.Floor(float64(p[axis] / diag)))
			for j := 0; j < 3; j++ {
				p[j] -= k * box.Data[3*axis+j]
			}
		}
	}
	return out, nil
}
