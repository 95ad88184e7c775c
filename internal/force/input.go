package force

// DType tags the element type of an extra input tensor.
type DType uint8

const (
	Int32 DType = iota
	Float32
)

func (d DType) String() string {
	switch d {
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	}
	return "unknown"
}

// Input is an extra tensor passed to the model beyond positions, box and
// global parameters. It is a tagged variant: exactly one of the two value
// slices is populated, selected by DType. Values are flattened in row-major
// order; the product of Shape must equal the value count, which is checked
// when an engine compiles the force.
type Input struct {
	name   string
	shape  []int
	dtype  DType
	ints   []int32
	floats []float32
}

// NewIntegerInput creates an int32-valued input. The values and shape are
// copied; the Input owns its storage exclusively.
func NewIntegerInput(name string, values []int32, shape []int) *Input {
	return &Input{
		name:  name,
		shape: append([]int(nil), shape...),
		dtype: Int32,
		ints:  append([]int32(nil), values...),
	}
}

// NewFloatInput creates a float32-valued input.
func NewFloatInput(name string, values []float32, shape []int) *Input {
	return &Input{
		name:   name,
		shape:  append([]int(nil), shape...),
		dtype:  Float32,
		floats: append([]float32(nil), values...),
	}
}

func (in *Input) Name() string {
	return in.name
}

func (in *Input) DType() DType {
	return in.dtype
}

func (in *Input) Shape() []int {
	return in.shape
}

func (in *Input) SetShape(shape []int) {
	in.shape = append([]int(nil), shape...)
}

// IntValues returns the tensor's values for an Int32 input. The returned
// slice is the input's own storage; callers may mutate values in place.
func (in *Input) IntValues() []int32 {
	return in.ints
}

func (in *Input) SetIntValues(values []int32) {
	in.ints = append([]int32(nil), values...)
}

// FloatValues returns the tensor's values for a Float32 input.
func (in *Input) FloatValues() []float32 {
	return in.floats
}

func (in *Input) SetFloatValues(values []float32) {
	in.floats = append([]float32(nil), values...)
}

// Len returns the number of values the tensor holds.
func (in *Input) Len() int {
	if in.dtype == Int32 {
		return len(in.ints)
	}
	return len(in.floats)
}

func (in *Input) clone() *Input {
	return &Input{
		name:   in.name,
		shape:  append([]int(nil), in.shape...),
		dtype:  in.dtype,
		ints:   append([]int32(nil), in.ints...),
		floats: append([]float32(nil), in.floats...),
	}
}
