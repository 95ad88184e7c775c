// Package host declares the contract between an evaluation engine and the
// simulation that embeds it. The host owns the global particle arrays, the
// periodic box and the live parameter table; the engine only reads them.
// Summing the engine's energy and force contributions into the global
// accumulators is the host's job.
package host

// Vec3 is a position, force or box vector in the host's double precision.
type Vec3 [3]float64

// Host is what an engine needs from the embedding simulation on every
// step. Implementations are read under the caller's synchronization; the
// engine never writes back through this interface.
type Host interface {
	// NumParticles returns the particle count, fixed for the lifetime of
	// any engine initialized against this host.
	NumParticles() int
	// Position returns the current position of particle i.
	Position(i int) Vec3
	// PeriodicBoxVectors returns the three box vectors in reduced form.
	PeriodicBoxVectors() (a, b, c Vec3)
	// Parameter returns the current value of a named global parameter.
	Parameter(name string) (float64, bool)
}

// StaticHost is a plain in-memory Host, used by the CLI and by tests. The
// caller mutates the fields directly between steps.
type StaticHost struct {
	Positions  []Vec3
	Box        [3]Vec3
	Parameters map[string]float64
}

func (h *StaticHost) NumParticles() int {
	return len(h.Positions)
}

func (h *StaticHost) Position(i int) Vec3 {
	return h.Positions[i]
}

func (h *StaticHost) PeriodicBoxVectors() (Vec3, Vec3, Vec3) {
	return h.Box[0], h.Box[1], h.Box[2]
}

func (h *StaticHost) Parameter(name string) (float64, bool) {
	value, ok := h.Parameters[name]
	return value, ok
}

// SetParameter updates a live parameter value, creating the table on first
// use.
func (h *StaticHost) SetParameter(name string, value float64) {
	if h.Parameters == nil {
		h.Parameters = make(map[string]float64)
	}
	h.Parameters[name] = value
}
