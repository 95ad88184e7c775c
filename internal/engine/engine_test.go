package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"nnforce/internal/backend"
	"nnforce/internal/binding"
	"nnforce/internal/force"
	"nnforce/internal/graph"
	"nnforce/internal/host"
)

// centralModel computes E = sum |r|^2 and forces = -2 r.
func centralModel(t *testing.T) []byte {
	t.Helper()
	b := graph.NewBuilder()
	pos := b.Input("positions")
	b.Output("energy", b.Sum(b.Sqnorm(pos)))
	b.Output("forces", b.Neg(b.Mul(pos, b.Scalar(2))))
	return buildModel(t, b)
}

// periodicModel is the central model evaluated on wrapped coordinates.
func periodicModel(t *testing.T) []byte {
	t.Helper()
	b := graph.NewBuilder()
	wrapped := b.Wrap(b.Input("positions"), b.Input("box"))
	b.Output("energy", b.Sum(b.Sqnorm(wrapped)))
	b.Output("forces", b.Neg(b.Mul(wrapped, b.Scalar(2))))
	return buildModel(t, b)
}

// parameterModel computes E = k sum |r|^2 and forces = -2 k r.
func parameterModel(t *testing.T) []byte {
	t.Helper()
	b := graph.NewBuilder()
	pos := b.Input("positions")
	k := b.Input("k")
	b.Output("energy", b.Mul(k, b.Sum(b.Sqnorm(pos))))
	b.Output("forces", b.Neg(b.Mul(k, b.Mul(pos, b.Scalar(2)))))
	return buildModel(t, b)
}

// extraInputModel computes E = sum scale_i (|r_i|^2 - offset_i) and
// forces = -2 scale_i r_i.
func extraInputModel(t *testing.T) []byte {
	t.Helper()
	b := graph.NewBuilder()
	pos := b.Input("positions")
	scale := b.Cast(b.Input("scale"))
	offset := b.Input("offset")
	b.Output("energy", b.Sum(b.Mul(scale, b.Sub(b.Sqnorm(pos), offset))))
	b.Output("forces", b.Neg(b.Mul(scale, b.Mul(pos, b.Scalar(2)))))
	return buildModel(t, b)
}

func buildModel(t *testing.T, b *graph.Builder) []byte {
	t.Helper()
	model, err := b.Build()
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return model
}

func testHost(n int) *host.StaticHost {
	h := &host.StaticHost{Positions: make([]host.Vec3, n)}
	for i := range h.Positions {
		// Deterministic spread, including coordinates outside a small box.
		h.Positions[i] = host.Vec3{0.3*float64(i) - 1, 0.7 * float64(i), 0.1*float64(i) + 0.5}
	}
	return h
}

func newEngine(t *testing.T, f *force.Force, h host.Host) *Engine {
	t.Helper()
	e := New(f)
	if err := e.Initialize(context.Background(), h); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e
}

func approx(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol*(1+math.Abs(want))
}

func TestEvaluateSubset(t *testing.T) {
	f, err := force.New(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	subset := []int{0, 1, 2, 9, 5}
	f.SetParticleIndices(subset)

	h := testHost(10)
	e := newEngine(t, f, h)
	defer e.Close()

	energy, forces, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var want float64
	for _, i := range subset {
		p := h.Positions[i]
		want += p[0]*p[0] + p[1]*p[1] + p[2]*p[2]
	}
	if !approx(energy, want, 1e-5) {
		t.Fatalf("energy = %v, want %v", energy, want)
	}

	if len(forces) != len(subset) {
		t.Fatalf("got %d contributions, want %d", len(forces), len(subset))
	}
	for _, i := range subset {
		contribution, ok := forces[i]
		if !ok {
			t.Fatalf("no contribution for particle %d", i)
		}
		for axis := 0; axis < 3; axis++ {
			if !approx(contribution[axis], -2*h.Positions[i][axis], 1e-5) {
				t.Fatalf("force[%d][%d] = %v, want %v", i, axis, contribution[axis], -2*h.Positions[i][axis])
			}
		}
	}
	for i := 0; i < 10; i++ {
		if _, ok := forces[i]; ok != contains(subset, i) {
			t.Fatalf("particle %d: contribution presence %v", i, ok)
		}
	}
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestEvaluateAllParticles(t *testing.T) {
	f, err := force.New(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	h := testHost(4)
	e := newEngine(t, f, h)
	defer e.Close()

	_, forces, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(forces) != 4 {
		t.Fatalf("empty subset should cover all particles, got %d", len(forces))
	}
}

func TestEvaluatePeriodic(t *testing.T) {
	f, err := force.New(periodicModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.SetUsesPeriodicBoundaryConditions(true)

	h := testHost(6)
	h.Box = [3]host.Vec3{{2, 0, 0}, {0, 3, 0}, {0, 0, 4}}
	e := newEngine(t, f, h)
	defer e.Close()

	energy, forces, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var want float64
	for i, p := range h.Positions {
		w := wrapInto(p, h.Box)
		want += w[0]*w[0] + w[1]*w[1] + w[2]*w[2]
		for axis := 0; axis < 3; axis++ {
			if !approx(forces[i][axis], -2*w[axis], 1e-5) {
				t.Fatalf("force[%d][%d] = %v, want %v", i, axis, forces[i][axis], -2*w[axis])
			}
		}
	}
	if !approx(energy, want, 1e-5) {
		t.Fatalf("energy = %v, want %v", energy, want)
	}
}

// wrapInto mirrors the model-side folding for an axis-aligned box.
func wrapInto(p host.Vec3, box [3]host.Vec3) host.Vec3 {
	for axis := 2; axis >= 0; axis-- {
		k := math.Floor(p[axis] / box[axis][axis])
		for j := 0; j < 3; j++ {
			p[j] -= k * box[axis][j]
		}
	}
	return p
}

func TestLiveParameterUpdate(t *testing.T) {
	f, err := force.New(parameterModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.AddGlobalParameter("k", 2.0)

	h := testHost(5)
	e := newEngine(t, f, h)
	defer e.Close()

	for name, value := range e.DefaultParameters() {
		h.SetParameter(name, value)
	}

	energy2, forces2, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate k=2: %v", err)
	}

	// No reinitialization: only the live value changes.
	h.SetParameter("k", 3.0)
	energy3, forces3, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate k=3: %v", err)
	}

	if !approx(energy3, 1.5*energy2, 1e-5) {
		t.Fatalf("energy did not scale: k=2 %v, k=3 %v", energy2, energy3)
	}
	for i := range h.Positions {
		for axis := 0; axis < 3; axis++ {
			if !approx(forces3[i][axis], 1.5*forces2[i][axis], 1e-5) {
				t.Fatalf("force[%d][%d] did not scale: %v vs %v", i, axis, forces2[i][axis], forces3[i][axis])
			}
			if !approx(forces3[i][axis], -6*h.Positions[i][axis], 1e-5) {
				t.Fatalf("force[%d][%d] = %v, want %v", i, axis, forces3[i][axis], -6*h.Positions[i][axis])
			}
		}
	}
}

func TestExtraInputs(t *testing.T) {
	const n = 6
	f, err := force.New(extraInputModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	scale := []int32{1, 0, 2, 1, 0, 3}
	offset := []float32{0.5, 0.25, 0, 1, 0.75, 0.125}
	f.AddInput(force.NewIntegerInput("scale", scale, []int{n}))
	f.AddInput(force.NewFloatInput("offset", offset, []int{n}))

	h := testHost(n)
	e := newEngine(t, f, h)
	defer e.Close()

	energy, forces, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var want float64
	for i, p := range h.Positions {
		r2 := p[0]*p[0] + p[1]*p[1] + p[2]*p[2]
		want += float64(scale[i]) * (r2 - float64(offset[i]))
		for axis := 0; axis < 3; axis++ {
			expected := -2 * float64(scale[i]) * p[axis]
			if !approx(forces[i][axis], expected, 1e-5) {
				t.Fatalf("force[%d][%d] = %v, want %v", i, axis, forces[i][axis], expected)
			}
		}
	}
	if !approx(energy, want, 1e-5) {
		t.Fatalf("energy = %v, want %v", energy, want)
	}
}

func TestExtraInputsFrozenAtInitialization(t *testing.T) {
	const n = 3
	f, err := force.New(extraInputModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.AddInput(force.NewIntegerInput("scale", []int32{1, 1, 1}, []int{n}))
	f.AddInput(force.NewFloatInput("offset", []float32{0, 0, 0}, []int{n}))

	h := testHost(n)
	e := newEngine(t, f, h)
	defer e.Close()

	before, _, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// Descriptor mutation after initialization must not reach the engine.
	in, _ := f.Input(0)
	in.SetIntValues([]int32{5, 5, 5})
	after, _, err := e.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("evaluate after mutation: %v", err)
	}
	if before != after {
		t.Fatalf("mutated input leaked into engine: %v vs %v", before, after)
	}
}

func TestShapeMismatchFailsInitialize(t *testing.T) {
	f, err := force.New(extraInputModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.AddInput(force.NewIntegerInput("scale", make([]int32, 9), []int{10}))

	e := New(f)
	err = e.Initialize(context.Background(), testHost(10))
	var shapeErr *binding.ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
	if shapeErr.Expected != 10 || shapeErr.Found != 9 {
		t.Fatalf("unexpected shape error: %+v", shapeErr)
	}
}

func TestUnavailableProviderFailsInitialize(t *testing.T) {
	if backend.Available(backend.CUDA) {
		t.Skip("cuda provider present in this build")
	}
	f, err := force.New(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.SetProvider(backend.CUDA)

	h := testHost(2)
	e := New(f)
	if err := e.Initialize(context.Background(), h); !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Initialize, got %v", err)
	}
	// The failure surfaced at initialization; the engine never became usable.
	if _, _, err := e.Evaluate(context.Background(), h); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestBadUseGraphsFailsInitialize(t *testing.T) {
	f, err := force.New(centralModel(t), map[string]string{force.PropertyUseGraphs: "maybe"})
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	e := New(f)
	if err := e.Initialize(context.Background(), testHost(2)); !errors.Is(err, backend.ErrBadOption) {
		t.Fatalf("expected ErrBadOption, got %v", err)
	}
}

func TestSubsetValidation(t *testing.T) {
	cases := []struct {
		name    string
		indices []int
	}{
		{"duplicate", []int{0, 1, 1}},
		{"negative", []int{-1}},
		{"out of range", []int{0, 10}},
	}
	for _, c := range cases {
		f, err := force.New(centralModel(t), nil)
		if err != nil {
			t.Fatalf("new force: %v", err)
		}
		f.SetParticleIndices(c.indices)
		e := New(f)
		if err := e.Initialize(context.Background(), testHost(10)); !errors.Is(err, ErrBadSubset) {
			t.Fatalf("%s: expected ErrBadSubset, got %v", c.name, err)
		}
	}
}

func TestEvaluateBeforeInitialize(t *testing.T) {
	f, err := force.New(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	e := New(f)
	if _, _, err := e.Evaluate(context.Background(), testHost(2)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEvaluateAfterClose(t *testing.T) {
	f, err := force.New(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	h := testHost(2)
	e := newEngine(t, f, h)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, err := e.Evaluate(context.Background(), h); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMissingHostParameter(t *testing.T) {
	f, err := force.New(parameterModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.AddGlobalParameter("k", 2.0)

	h := testHost(2)
	e := newEngine(t, f, h)
	defer e.Close()

	// The host table was never seeded.
	if _, _, err := e.Evaluate(context.Background(), h); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
}
