// Package engine evaluates a neural-network force term on every simulation
// step. An engine is compiled once from a Force: it freezes a snapshot of
// the descriptor, resolves the execution provider chain, allocates and
// binds its input buffers, and builds the inference session. From then on
// Evaluate copies host state into the bound buffers, runs inference, and
// scatters the energy and per-particle forces back to the caller.
//
// There is no reinitialize path: any configuration change means compiling
// a new engine. Engines are single-threaded; concurrent Evaluate calls
// would race on the bound buffers.
package engine

import (
	"context"
	"errors"
	"fmt"

	"nnforce/internal/backend"
	"nnforce/internal/binding"
	"nnforce/internal/ctxlog"
	"nnforce/internal/force"
	"nnforce/internal/host"
	"nnforce/internal/session"
)

var (
	ErrNotInitialized   = errors.New("engine not initialized")
	ErrClosed           = errors.New("engine closed")
	ErrBadSubset        = errors.New("invalid particle subset")
	ErrUnknownParameter = errors.New("parameter missing from host table")
)

type state int

const (
	uninitialized state = iota
	initialized
	evaluating
	closed
)

type Engine struct {
	src   *force.Force
	state state

	// Frozen at initialization.
	frozen     *force.Force
	subset     []int
	paramNames []string

	// Buffers referenced by the session; written in place each step.
	positions *binding.Binding
	box       *binding.Binding
	params    []*binding.Binding

	sess *session.Session
}

// New wraps a Force for evaluation. Nothing is validated until Initialize.
func New(f *force.Force) *Engine {
	return &Engine{src: f}
}

// Initialize compiles the force against the host: it snapshots the
// descriptor, builds the provider chain, freezes the particle subset using
// the host's current particle count, allocates and binds all buffers, and
// constructs the inference session. On any error the engine stays
// unusable.
func (e *Engine) Initialize(ctx context.Context, h host.Host) error {
	switch e.state {
	case initialized, evaluating:
		return errors.New("engine already initialized")
	case closed:
		return ErrClosed
	}

	snap := e.src.Clone()
	properties := snap.Properties()
	chain, err := backend.BuildChain(snap.Provider(),
		properties[force.PropertyDeviceIndex], properties[force.PropertyUseGraphs])
	if err != nil {
		return err
	}

	subset, err := resolveSubset(snap.ParticleIndices(), h.NumParticles())
	if err != nil {
		return err
	}

	inputs := []*binding.Binding{binding.Positions(len(subset))}
	positions := inputs[0]
	var box *binding.Binding
	if snap.UsesPeriodicBoundaryConditions() {
		box = binding.Box()
		inputs = append(inputs, box)
	}

	params := make([]*binding.Binding, 0, snap.NumGlobalParameters())
	names := make([]string, 0, snap.NumGlobalParameters())
	for _, p := range snap.GlobalParameters() {
		b := binding.Scalar(p.Name)
		params = append(params, b)
		inputs = append(inputs, b)
		names = append(names, p.Name)
	}

	for _, in := range snap.Inputs() {
		b, err := binding.FromInput(in)
		if err != nil {
			return err
		}
		inputs = append(inputs, b)
	}

	sess, err := session.New(ctx, snap.Model(), chain, inputs)
	if err != nil {
		return err
	}

	e.frozen = snap
	e.subset = subset
	e.paramNames = names
	e.positions = positions
	e.box = box
	e.params = params
	e.sess = sess
	e.state = initialized

	ctxlog.From(ctx).Debug("engine initialized",
		"particles", len(subset),
		"parameters", len(names),
		"inputs", snap.NumInputs(),
		"periodic", box != nil)
	return nil
}

// resolveSubset expands an empty subset to all particles and validates an
// explicit one. The original behavior accepted duplicate or out-of-range
// indices; rejecting them here is a deliberate strengthening.
func resolveSubset(indices []int, numParticles int) ([]int, error) {
	if len(indices) == 0 {
		subset := make([]int, numParticles)
		for i := range subset {
			subset[i] = i
		}
		return subset, nil
	}

	seen := make(map[int]struct{}, len(indices))
	subset := make([]int, len(indices))
	for i, index := range indices {
		if index < 0 || index >= numParticles {
			return nil, fmt.Errorf("%w: index %d with %d particles", ErrBadSubset, index, numParticles)
		}
		if _, dup := seen[index]; dup {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrBadSubset, index)
		}
		seen[index] = struct{}{}
		subset[i] = index
	}
	return subset, nil
}

// Evaluate runs one step: it copies the host's positions (and box and
// parameter values) into the bound buffers, invokes inference, and returns
// the potential energy together with the force contribution for each
// subset particle, keyed by host particle index. Particles outside the
// subset have no entry; the host treats their contribution as zero.
func (e *Engine) Evaluate(ctx context.Context, h host.Host) (float64, map[int]host.Vec3, error) {
	switch e.state {
	case uninitialized:
		return 0, nil, ErrNotInitialized
	case evaluating:
		return 0, nil, errors.New("evaluate called reentrantly")
	case closed:
		return 0, nil, ErrClosed
	}
	e.state = evaluating
	defer func() { e.state = initialized }()

	for i, index := range e.subset {
		p := h.Position(index)
		e.positions.Floats[3*i] = float32(p[0])
		e.positions.Floats[3*i+1] = float32(p[1])
		e.positions.Floats[3*i+2] = float32(p[2])
	}
	if e.box != nil {
		a, b, c := h.PeriodicBoxVectors()
		for j, v := range [3]host.Vec3{a, b, c} {
			e.box.Floats[3*j] = float32(v[0])
			e.box.Floats[3*j+1] = float32(v[1])
			e.box.Floats[3*j+2] = float32(v[2])
		}
	}
	for i, name := range e.paramNames {
		value, ok := h.Parameter(name)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}
		e.params[i].Floats[0] = float32(value)
	}

	outputs, err := e.sess.Run(ctx, "energy", "forces")
	if err != nil {
		return 0, nil, err
	}
	energy, forces := outputs[0], outputs[1]
	if len(energy.Data) != 1 {
		return 0, nil, fmt.Errorf("%w: energy is not scalar, dims %v", session.ErrInference, energy.Dims)
	}
	if len(forces.Data) != 3*len(e.subset) {
		return 0, nil, fmt.Errorf("%w: forces have %d values, want %d",
			session.ErrInference, len(forces.Data), 3*len(e.subset))
	}

	contributions := make(map[int]host.Vec3, len(e.subset))
	for i, index := range e.subset {
		contributions[index] = host.Vec3{
			float64(forces.Data[3*i]),
			float64(forces.Data[3*i+1]),
			float64(forces.Data[3*i+2]),
		}
	}
	return float64(energy.Data[0]), contributions, nil
}

// DefaultParameters returns the frozen snapshot's parameter defaults, used
// to seed the host's parameter table. Valid after Initialize.
func (e *Engine) DefaultParameters() map[string]float64 {
	if e.frozen == nil {
		return nil
	}
	return e.frozen.DefaultParameters()
}

// ParticleIndices returns the frozen subset in subset order. Valid after
// Initialize.
func (e *Engine) ParticleIndices() []int {
	return e.subset
}

// Close releases the engine's buffers. The engine is unusable afterwards.
func (e *Engine) Close() error {
	e.state = closed
	e.positions = nil
	e.box = nil
	e.params = nil
	e.sess = nil
	e.frozen = nil
	return nil
}
