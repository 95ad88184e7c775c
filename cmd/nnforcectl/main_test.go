package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"nnforce/internal/graph"
	"nnforce/internal/serialize"
	"nnforce/pkg/nnforce"
)

func writeCentralModel(t *testing.T, dir string) string {
	t.Helper()
	b := graph.NewBuilder()
	pos := b.Input("positions")
	b.Output("energy", b.Sum(b.Sqnorm(pos)))
	b.Output("forces", b.Neg(b.Mul(pos, b.Scalar(2))))
	model, err := b.Build()
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	path := filepath.Join(dir, "model.json")
	if err := os.WriteFile(path, model, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

func TestRunMissingCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected usage error")
	}
	if err := run(context.Background(), []string{"transmogrify"}); err == nil {
		t.Fatal("expected unknown command error")
	}
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeCentralModel(t, dir)

	if err := run(context.Background(), []string{"validate", modelPath}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte("{"), 0o644); err != nil {
		t.Fatalf("write bad model: %v", err)
	}
	if err := run(context.Background(), []string{"validate", badPath}); err == nil {
		t.Fatal("expected error for invalid model")
	}
}

func TestRunInspect(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeCentralModel(t, dir)

	model, err := os.ReadFile(modelPath)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	f, err := nnforce.NewForce(model, nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	f.AddGlobalParameter("k", 1.5)
	doc, err := serialize.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	docPath := filepath.Join(dir, "force.xml")
	if err := os.WriteFile(docPath, doc, 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	if err := run(context.Background(), []string{"inspect", docPath}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
}

func TestRunEval(t *testing.T) {
	dir := t.TempDir()
	writeCentralModel(t, dir)

	configPath := filepath.Join(dir, "forces.hcl")
	configBody := `
force "central" {
  model_file = "model.json"
}
`
	if err := os.WriteFile(configPath, []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	scenePath := filepath.Join(dir, "scene.json")
	sceneBody := `{"positions": [[1, 0, 0], [0, 2, 0]]}`
	if err := os.WriteFile(scenePath, []byte(sceneBody), 0o644); err != nil {
		t.Fatalf("write scene: %v", err)
	}

	err := run(context.Background(), []string{
		"eval", "-config", configPath, "-force", "central", "-positions", scenePath,
	})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}

	if err := run(context.Background(), []string{"eval", "-config", configPath}); err == nil {
		t.Fatal("expected error without -positions")
	}
}

func TestRunCompile(t *testing.T) {
	dir := t.TempDir()
	writeCentralModel(t, dir)

	configPath := filepath.Join(dir, "forces.hcl")
	configBody := `
force "central" {
  model_file  = "model.json"
  force_group = 2

  parameter "k" {
    default = 1.5
  }
}
`
	if err := os.WriteFile(configPath, []byte(configBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	outPath := filepath.Join(dir, "force.xml")
	err := run(context.Background(), []string{
		"compile", "-config", configPath, "-force", "central", "-out", outPath,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	doc, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	f, err := serialize.Unmarshal(doc)
	if err != nil {
		t.Fatalf("unmarshal compiled document: %v", err)
	}
	if f.ForceGroup() != 2 {
		t.Fatalf("force group: got %d", f.ForceGroup())
	}
	if f.DefaultParameters()["k"] != 1.5 {
		t.Fatalf("parameters: got %v", f.DefaultParameters())
	}

	err = run(context.Background(), []string{
		"compile", "-config", configPath, "-force", "nonexistent",
	})
	if err == nil {
		t.Fatal("expected error for unknown force name")
	}
}

func TestRunCheckpointLifecycle(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeCentralModel(t, dir)
	storeDir := filepath.Join(dir, "store")

	model, err := os.ReadFile(modelPath)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	f, err := nnforce.NewForce(model, nil)
	if err != nil {
		t.Fatalf("new force: %v", err)
	}
	doc, err := serialize.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	docPath := filepath.Join(dir, "force.xml")
	if err := os.WriteFile(docPath, doc, 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	ctx := context.Background()
	err = run(ctx, []string{
		"checkpoint", "save",
		"-store", "badger", "-store-path", storeDir,
		"-label", "smoke", "-doc", docPath,
	})
	if err != nil {
		t.Fatalf("checkpoint save: %v", err)
	}

	err = run(ctx, []string{
		"checkpoint", "list",
		"-store", "badger", "-store-path", storeDir,
	})
	if err != nil {
		t.Fatalf("checkpoint list: %v", err)
	}

	garbagePath := filepath.Join(dir, "garbage.xml")
	if err := os.WriteFile(garbagePath, []byte("not a document"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	err = run(ctx, []string{
		"checkpoint", "save",
		"-store", "badger", "-store-path", storeDir,
		"-doc", garbagePath,
	})
	if err == nil {
		t.Fatal("expected error storing invalid document")
	}
}
