// Package force defines the mutable description of a neural-network force
// term: the serialized model, the particles it acts on, the global
// parameters and extra tensors its model consumes, and the execution
// provider preference. A Force carries no evaluation behavior; an engine
// freezes a snapshot of it at initialization and owns everything from
// there.
package force

import (
	"errors"
	"fmt"
	"os"

	"nnforce/internal/backend"
)

// Recognized property keys. Any other key is rejected by SetProperty.
const (
	PropertyDeviceIndex = "DeviceIndex"
	PropertyUseGraphs   = "UseGraphs"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// GlobalParameter is a named scalar the model depends on. The default value
// seeds the host's parameter table; the live value is read back from the
// host on every evaluation.
type GlobalParameter struct {
	Name         string
	DefaultValue float64
}

type Force struct {
	model            []byte
	particleIndices  []int
	periodic         bool
	forceGroup       int
	provider         backend.Provider
	globalParameters []GlobalParameter
	inputs           []*Input
	properties       map[string]string
}

// New creates a Force from the binary representation of a model. The
// optional properties map may override the recognized property defaults;
// unknown keys are rejected.
func New(model []byte, properties map[string]string) (*Force, error) {
	f := &Force{
		model: append([]byte(nil), model...),
		properties: map[string]string{
			PropertyDeviceIndex: "0",
			PropertyUseGraphs:   "false",
		},
	}
	for name, value := range properties {
		if err := f.SetProperty(name, value); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewFromFile creates a Force by loading the model from a file.
func NewFromFile(path string, properties map[string]string) (*Force, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return New(model, properties)
}

// Model returns the binary representation of the model.
func (f *Force) Model() []byte {
	return f.model
}

func (f *Force) Provider() backend.Provider {
	return f.provider
}

func (f *Force) SetProvider(p backend.Provider) {
	f.provider = p
}

// ParticleIndices returns the indices of the particles the force applies
// to, in subset order. An empty slice means the force applies to every
// particle in the host system.
func (f *Force) ParticleIndices() []int {
	return f.particleIndices
}

func (f *Force) SetParticleIndices(indices []int) {
	f.particleIndices = append([]int(nil), indices...)
}

func (f *Force) UsesPeriodicBoundaryConditions() bool {
	return f.periodic
}

func (f *Force) SetUsesPeriodicBoundaryConditions(periodic bool) {
	f.periodic = periodic
}

func (f *Force) ForceGroup() int {
	return f.forceGroup
}

func (f *Force) SetForceGroup(group int) {
	f.forceGroup = group
}

func (f *Force) NumGlobalParameters() int {
	return len(f.globalParameters)
}

// AddGlobalParameter declares a named scalar parameter and returns its
// index. Parameters are identified by declaration order for buffer binding
// but looked up by name in the host's live parameter table at every step.
func (f *Force) AddGlobalParameter(name string, defaultValue float64) int {
	f.globalParameters = append(f.globalParameters, GlobalParameter{Name: name, DefaultValue: defaultValue})
	return len(f.globalParameters) - 1
}

func (f *Force) GlobalParameterName(index int) (string, error) {
	if err := f.checkParameterIndex(index); err != nil {
		return "", err
	}
	return f.globalParameters[index].Name, nil
}

func (f *Force) SetGlobalParameterName(index int, name string) error {
	if err := f.checkParameterIndex(index); err != nil {
		return err
	}
	f.globalParameters[index].Name = name
	return nil
}

func (f *Force) GlobalParameterDefaultValue(index int) (float64, error) {
	if err := f.checkParameterIndex(index); err != nil {
		return 0, err
	}
	return f.globalParameters[index].DefaultValue, nil
}

func (f *Force) SetGlobalParameterDefaultValue(index int, defaultValue float64) error {
	if err := f.checkParameterIndex(index); err != nil {
		return err
	}
	f.globalParameters[index].DefaultValue = defaultValue
	return nil
}

// GlobalParameters returns the declared parameters in declaration order.
func (f *Force) GlobalParameters() []GlobalParameter {
	return f.globalParameters
}

// DefaultParameters returns the name to default-value map used to seed the
// host's parameter table.
func (f *Force) DefaultParameters() map[string]float64 {
	defaults := make(map[string]float64, len(f.globalParameters))
	for _, p := range f.globalParameters {
		defaults[p.Name] = p.DefaultValue
	}
	return defaults
}

func (f *Force) checkParameterIndex(index int) error {
	if index < 0 || index >= len(f.globalParameters) {
		return fmt.Errorf("%w: parameter %d of %d", ErrIndexOutOfRange, index, len(f.globalParameters))
	}
	return nil
}

func (f *Force) NumInputs() int {
	return len(f.inputs)
}

// AddInput declares an extra tensor passed to the model and returns its
// index. The Force takes exclusive ownership of the Input.
func (f *Force) AddInput(input *Input) int {
	f.inputs = append(f.inputs, input)
	return len(f.inputs) - 1
}

func (f *Force) Input(index int) (*Input, error) {
	if index < 0 || index >= len(f.inputs) {
		return nil, fmt.Errorf("%w: input %d of %d", ErrIndexOutOfRange, index, len(f.inputs))
	}
	return f.inputs[index], nil
}

// Inputs returns the declared extra inputs in declaration order.
func (f *Force) Inputs() []*Input {
	return f.inputs
}

// SetProperty sets the value of a recognized property.
func (f *Force) SetProperty(name, value string) error {
	if _, ok := f.properties[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	f.properties[name] = value
	return nil
}

// Properties returns a copy of the property map.
func (f *Force) Properties() map[string]string {
	properties := make(map[string]string, len(f.properties))
	for name, value := range f.properties {
		properties[name] = value
	}
	return properties
}

// Clone returns a deep copy. Engines clone the force they are initialized
// from so later mutation of the original is invisible to them.
func (f *Force) Clone() *Force {
	clone := &Force{
		model:            append([]byte(nil), f.model...),
		particleIndices:  append([]int(nil), f.particleIndices...),
		periodic:         f.periodic,
		forceGroup:       f.forceGroup,
		provider:         f.provider,
		globalParameters: append([]GlobalParameter(nil), f.globalParameters...),
		properties:       f.Properties(),
	}
	clone.inputs = make([]*Input, len(f.inputs))
	for i, in := range f.inputs {
		clone.inputs[i] = in.clone()
	}
	return clone
}
