// Package binding allocates the contiguous buffers an inference session
// reads its inputs from. Each binding pairs a named tensor view (dtype and
// dims) with the buffer backing it. Buffers are allocated once when an
// engine compiles a force and are never reallocated or resized afterwards:
// the session references them by slice, so the engine overwrites them in
// place on every step.
package binding

import (
	"fmt"

	"nnforce/internal/force"
)

type DType uint8

const (
	Float32 DType = iota
	Int32
)

// Binding is one named input tensor and the buffer behind it. Exactly one
// of Floats and Ints is non-nil, matching DType.
type Binding struct {
	Name   string
	DType  DType
	Dims   []int64
	Floats []float32
	Ints   []int32
}

// Len returns the number of elements the tensor holds.
func (b *Binding) Len() int {
	if b.DType == Int32 {
		return len(b.Ints)
	}
	return len(b.Floats)
}

// ShapeError reports an extra input whose declared shape does not cover its
// values.
type ShapeError struct {
	Name     string
	Expected int
	Found    int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("input %s: shape covers %d values, found %d", e.Name, e.Expected, e.Found)
}

// Positions allocates the per-step position buffer for n particles, bound
// as float32 [n, 3].
func Positions(n int) *Binding {
	return &Binding{
		Name:   "positions",
		DType:  Float32,
		Dims:   []int64{int64(n), 3},
		Floats: make([]float32, 3*n),
	}
}

// Box allocates the periodic box buffer, bound as float32 [3, 3] in
// row-major order.
func Box() *Binding {
	return &Binding{
		Name:   "box",
		DType:  Float32,
		Dims:   []int64{3, 3},
		Floats: make([]float32, 9),
	}
}

// Scalar allocates a single-element float32 buffer bound as [1], used for
// one global parameter.
func Scalar(name string) *Binding {
	return &Binding{
		Name:   name,
		DType:  Float32,
		Dims:   []int64{1},
		Floats: make([]float32, 1),
	}
}

// FromInput binds an extra input's own value storage, without copying,
// after validating that the declared shape covers the value count exactly.
// The caller must own the input for the binding's lifetime; engines bind
// the inputs of their private force snapshot.
func FromInput(in *force.Input) (*Binding, error) {
	expected := 1
	for _, dim := range in.Shape() {
		expected *= dim
	}
	if expected != in.Len() {
		return nil, &ShapeError{Name: in.Name(), Expected: expected, Found: in.Len()}
	}

	dims := make([]int64, len(in.Shape()))
	for i, dim := range in.Shape() {
		dims[i] = int64(dim)
	}
	b := &Binding{Name: in.Name(), Dims: dims}
	switch in.DType() {
	case force.Int32:
		b.DType = Int32
		b.Ints = in.IntValues()
	case force.Float32:
		b.DType = Float32
		b.Floats = in.FloatValues()
	default:
		return nil, fmt.Errorf("input %s: unknown dtype %v", in.Name(), in.DType())
	}
	return b, nil
}
