package graph

// Builder assembles a graph node by node. Each method appends a node and
// returns its index for use as a later operand.
type Builder struct {
	g Graph
}

func NewBuilder() *Builder {
	return &Builder{g: Graph{Version: Version, Outputs: map[string]int{}}}
}

func (b *Builder) add(n Node) int {
	b.g.Nodes = append(b.g.Nodes, n)
	return len(b.g.Nodes) - 1
}

// Input declares a named tensor the session must bind.
func (b *Builder) Input(name string) int {
	return b.add(Node{Op: OpInput, Name: name})
}

// Const embeds a tensor literal. Dims nil or [1] with one value is a scalar.
func (b *Builder) Const(dims []int, value ...float32) int {
	return b.add(Node{Op: OpConst, Dims: dims, Value: value})
}

// Scalar embeds a single-value constant.
func (b *Builder) Scalar(v float32) int {
	return b.Const([]int{1}, v)
}

func (b *Builder) Cast(x int) int   { return b.add(Node{Op: OpCast, Args: []int{x}}) }
func (b *Builder) Add(x, y int) int { return b.add(Node{Op: OpAdd, Args: []int{x, y}}) }
func (b *Builder) Sub(x, y int) int { return b.add(Node{Op: OpSub, Args: []int{x, y}}) }
func (b *Builder) Mul(x, y int) int { return b.add(Node{Op: OpMul, Args: []int{x, y}}) }
func (b *Builder) Neg(x int) int    { return b.add(Node{Op: OpNeg, Args: []int{x}}) }
func (b *Builder) Sqnorm(x int) int { return b.add(Node{Op: OpSqnorm, Args: []int{x}}) }
func (b *Builder) Sum(x int) int    { return b.add(Node{Op: OpSum, Args: []int{x}}) }
func (b *Builder) Wrap(pos, box int) int {
	return b.add(Node{Op: OpWrap, Args: []int{pos, box}})
}

// Output names a node as a model output.
func (b *Builder) Output(name string, id int) {
	b.g.Outputs[name] = id
}

// Build validates the graph and returns its model bytes.
func (b *Builder) Build() ([]byte, error) {
	return b.g.Encode()
}
