// Package nnforce is the public surface of the module. It re-exports
// the force descriptor, evaluation engine and host contract, and wraps
// the checkpoint store behind a small client.
package nnforce

import (
	"context"
	"fmt"

	"nnforce/internal/backend"
	"nnforce/internal/config"
	"nnforce/internal/engine"
	"nnforce/internal/force"
	"nnforce/internal/host"
	"nnforce/internal/serialize"
	"nnforce/internal/storage"
)

// Core types, re-exported so callers need only this package.
type (
	Force      = force.Force
	Input      = force.Input
	Engine     = engine.Engine
	Host       = host.Host
	StaticHost = host.StaticHost
	Vec3       = host.Vec3
	Provider   = backend.Provider
	Definition = config.Definition
	Checkpoint = storage.Checkpoint
)

const (
	Default  = backend.Default
	CPU      = backend.CPU
	CUDA     = backend.CUDA
	TensorRT = backend.TensorRT
	ROCm     = backend.ROCm
)

func NewForce(model []byte, properties map[string]string) (*Force, error) {
	return force.New(model, properties)
}

func NewForceFromFile(path string, properties map[string]string) (*Force, error) {
	return force.NewFromFile(path, properties)
}

func NewIntegerInput(name string, values []int32, shape []int) *Input {
	return force.NewIntegerInput(name, values, shape)
}

func NewFloatInput(name string, values []float32, shape []int) *Input {
	return force.NewFloatInput(name, values, shape)
}

func NewEngine(f *Force) *Engine {
	return engine.New(f)
}

// Marshal renders a force as a versioned XML document.
func Marshal(f *Force) ([]byte, error) {
	return serialize.Marshal(f)
}

// Unmarshal reconstructs a force from a document produced by Marshal.
func Unmarshal(data []byte) (*Force, error) {
	return serialize.Unmarshal(data)
}

// LoadDefinitions parses force definitions from an HCL file.
func LoadDefinitions(ctx context.Context, path string) ([]*Definition, error) {
	return config.Load(ctx, path)
}

type Options struct {
	StoreKind string
	StorePath string
}

// Client owns a checkpoint store and saves and restores forces through it.
type Client struct {
	store storage.Store
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}

	store, err := storage.NewStore(storeKind, opts.StorePath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store}, nil
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// SaveForce serializes the force and stores it as a labelled checkpoint,
// returning the checkpoint ID.
func (c *Client) SaveForce(ctx context.Context, label string, f *Force) (string, error) {
	doc, err := serialize.Marshal(f)
	if err != nil {
		return "", err
	}
	cp := storage.NewCheckpoint(label, doc)
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return "", err
	}
	return cp.ID, nil
}

// LoadForce restores a force from the checkpoint with the given ID.
func (c *Client) LoadForce(ctx context.Context, id string) (*Force, bool, error) {
	cp, ok, err := c.store.GetCheckpoint(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	f, err := serialize.Unmarshal(cp.Document)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint %s: %w", id, err)
	}
	return f, true, nil
}

func (c *Client) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	return c.store.ListCheckpoints(ctx)
}

func (c *Client) DeleteCheckpoint(ctx context.Context, id string) error {
	return c.store.DeleteCheckpoint(ctx, id)
}
