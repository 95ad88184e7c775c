// Package session runs inference over a parsed model. A session is built
// once from model bytes, a resolved provider chain and the full set of
// bound input tensors; afterwards each Run reads whatever the caller last
// wrote into the bound buffers. The session dispatches to the first chain
// entry with an executor in this build; the chain always terminates in the
// CPU interpreter, so dispatch cannot come up empty.
package session

import (
	"context"
	"errors"
	"fmt"

	"nnforce/internal/backend"
	"nnforce/internal/binding"
	"nnforce/internal/ctxlog"
	"nnforce/internal/graph"
)

var (
	ErrInvalidModel = errors.New("invalid model")
	ErrInference    = errors.New("inference failed")
)

type Session struct {
	g       *graph.Graph
	chain   []backend.Entry
	inputs  map[string]*binding.Binding
	execute executor
}

type executor func(g *graph.Graph, inputs map[string]*binding.Binding) (map[string]*graph.Tensor, error)

func executorFor(p backend.Provider) (executor, bool) {
	if p == backend.CPU {
		return func(g *graph.Graph, inputs map[string]*binding.Binding) (map[string]*graph.Tensor, error) {
			return g.Run(inputs)
		}, true
	}
	return nil, false
}

// New parses the model bytes and fixes the session's dispatch and input
// bindings. Binding names must be unique; the model may reference any
// subset of them.
func New(ctx context.Context, model []byte, chain []backend.Entry, inputs []*binding.Binding) (*Session, error) {
	g, err := graph.Parse(model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	byName := make(map[string]*binding.Binding, len(inputs))
	for _, b := range inputs {
		if _, ok := byName[b.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate input tensor %q", ErrInvalidModel, b.Name)
		}
		byName[b.Name] = b
	}

	s := &Session{g: g, chain: chain, inputs: byName}
	for _, entry := range chain {
		if execute, ok := executorFor(entry.Provider); ok {
			s.execute = execute
			ctxlog.From(ctx).Debug("session provider selected",
				"provider", entry.Provider.String(), "options", entry.Options)
			break
		}
	}
	if s.execute == nil {
		return nil, fmt.Errorf("%w: no executable provider in chain", ErrInvalidModel)
	}
	return s, nil
}

// Run evaluates the model and returns the named outputs in request order.
func (s *Session) Run(ctx context.Context, names ...string) ([]*graph.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outputs, err := s.execute(s.g, s.inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	results := make([]*graph.Tensor, len(names))
	for i, name := range names {
		t, ok := outputs[name]
		if !ok {
			return nil, fmt.Errorf("%w: model produced no output %q", ErrInference, name)
		}
		results[i] = t
	}
	return results, nil
}
