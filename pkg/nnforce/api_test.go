package nnforce

import (
	"bytes"
	"context"
	"math"
	"testing"

	"nnforce/internal/graph"
)

func centralModel(t *testing.T) []byte {
	t.Helper()
	b := graph.NewBuilder()
	pos := b.Input("positions")
	b.Output("energy", b.Sum(b.Sqnorm(pos)))
	b.Output("forces", b.Neg(b.Mul(pos, b.Scalar(2))))
	model, err := b.Build()
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	return model
}

func TestEvaluateThroughFacade(t *testing.T) {
	f, err := NewForce(centralModel(t), nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}

	h := &StaticHost{
		Positions: []Vec3{{1, 0, 0}, {0, 2, 0}},
		Box:       [3]Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}

	eng := NewEngine(f)
	ctx := context.Background()
	if err := eng.Initialize(ctx, h); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer eng.Close()

	energy, forces, err := eng.Evaluate(ctx, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(energy-5) > 1e-6 {
		t.Fatalf("energy: got %v want 5", energy)
	}
	if len(forces) != 2 {
		t.Fatalf("forces: got %d entries", len(forces))
	}
	if math.Abs(forces[0][0]+2) > 1e-6 {
		t.Fatalf("force on particle 0: got %v", forces[0])
	}
}

func TestClientSaveAndLoadForce(t *testing.T) {
	ctx := context.Background()

	client, err := New(Options{StoreKind: "memory"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	if err := client.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	f, err := NewForce(centralModel(t), map[string]string{"DeviceIndex": "2"})
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.SetForceGroup(1)
	f.AddGlobalParameter("k", 0.5)

	id, err := client.SaveForce(ctx, "pre-minimization", f)
	if err != nil {
		t.Fatalf("save force: %v", err)
	}

	restored, ok, err := client.LoadForce(ctx, id)
	if err != nil {
		t.Fatalf("load force: %v", err)
	}
	if !ok {
		t.Fatalf("checkpoint %s not found", id)
	}
	if !bytes.Equal(restored.Model(), f.Model()) {
		t.Fatal("model bytes did not round trip")
	}
	if restored.ForceGroup() != 1 {
		t.Fatalf("force group: got %d", restored.ForceGroup())
	}
	if restored.Properties()["DeviceIndex"] != "2" {
		t.Fatalf("properties: got %v", restored.Properties())
	}
	if restored.DefaultParameters()["k"] != 0.5 {
		t.Fatalf("parameters: got %v", restored.DefaultParameters())
	}

	list, err := client.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Label != "pre-minimization" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	if err := client.DeleteCheckpoint(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = client.LoadForce(ctx, id)
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if ok {
		t.Fatal("deleted checkpoint still present")
	}
}

func TestClientUnknownStoreKind(t *testing.T) {
	if _, err := New(Options{StoreKind: "etcd"}); err == nil {
		t.Fatal("expected error for unknown store kind")
	}
}
