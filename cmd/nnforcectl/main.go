package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"nnforce/internal/backend"
	"nnforce/internal/ctxlog"
	"nnforce/internal/engine"
	"nnforce/internal/graph"
	"nnforce/internal/host"
	"nnforce/internal/serialize"
	"nnforce/internal/storage"
	"nnforce/pkg/nnforce"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "providers":
		return runProviders(ctx, args[1:])
	case "validate":
		return runValidate(ctx, args[1:])
	case "compile":
		return runCompile(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "checkpoint":
		return runCheckpoint(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func withLogger(ctx context.Context, verbose bool) context.Context {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return ctxlog.With(ctx, logger)
}

func runProviders(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("providers", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	for _, p := range []backend.Provider{backend.CPU, backend.CUDA, backend.TensorRT, backend.ROCm} {
		status := "unavailable"
		if backend.Available(p) {
			status = "available"
		}
		fmt.Printf("%-10s %s\n", p, status)
	}
	return nil
}

func runValidate(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("validate expects exactly one model file")
	}

	model, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	g, err := graph.Parse(model)
	if err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}

	fmt.Printf("nodes:   %d\n", len(g.Nodes))
	fmt.Printf("inputs:  %v\n", g.InputNames())
	outputs := make([]string, 0, len(g.Outputs))
	for name := range g.Outputs {
		outputs = append(outputs, name)
	}
	fmt.Printf("outputs: %v\n", outputs)
	return nil
}

// runCompile realizes a force definition from HCL and emits the versioned
// XML document for it.
func runCompile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	configPath := fs.String("config", "forces.hcl", "force definition file")
	forceName := fs.String("force", "", "name of the force block to compile")
	outPath := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	defs, err := nnforce.LoadDefinitions(ctx, *configPath)
	if err != nil {
		return err
	}
	var def *nnforce.Definition
	for _, d := range defs {
		if *forceName == "" || d.Name == *forceName {
			def = d
			break
		}
	}
	if def == nil {
		return fmt.Errorf("no force definition %q in %s", *forceName, *configPath)
	}

	f, err := def.Realize()
	if err != nil {
		return err
	}
	doc, err := serialize.Marshal(f)
	if err != nil {
		return err
	}

	if *outPath == "" {
		fmt.Println(string(doc))
		return nil
	}
	return os.WriteFile(*outPath, doc, 0o644)
}

func runInspect(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usageError("inspect expects exactly one force document")
	}

	doc, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	f, err := serialize.Unmarshal(doc)
	if err != nil {
		return err
	}

	fmt.Printf("force group: %d\n", f.ForceGroup())
	fmt.Printf("periodic:    %v\n", f.UsesPeriodicBoundaryConditions())
	fmt.Printf("model bytes: %d\n", len(f.Model()))
	if indices := f.ParticleIndices(); len(indices) > 0 {
		fmt.Printf("particles:   %v\n", indices)
	} else {
		fmt.Printf("particles:   all\n")
	}
	for _, p := range f.GlobalParameters() {
		fmt.Printf("parameter:   %s = %g\n", p.Name, p.DefaultValue)
	}
	for _, in := range f.Inputs() {
		fmt.Printf("input:       %s %s shape=%v\n", in.Name(), in.DType(), in.Shape())
	}
	for name, value := range f.Properties() {
		fmt.Printf("property:    %s = %s\n", name, value)
	}
	return nil
}

// evalScene is the JSON layout of the positions file consumed by eval.
type evalScene struct {
	Positions  [][3]float64       `json:"positions"`
	Box        *[3][3]float64     `json:"box"`
	Parameters map[string]float64 `json:"parameters"`
}

type evalResult struct {
	Energy float64            `json:"energy"`
	Forces map[int][3]float64 `json:"forces"`
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	configPath := fs.String("config", "forces.hcl", "force definition file")
	forceName := fs.String("force", "", "name of the force block to evaluate")
	scenePath := fs.String("positions", "", "JSON file with positions, box and parameters")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenePath == "" {
		return usageError("eval requires -positions")
	}

	ctx = withLogger(ctx, *verbose)

	defs, err := nnforce.LoadDefinitions(ctx, *configPath)
	if err != nil {
		return err
	}
	var def *nnforce.Definition
	for _, d := range defs {
		if *forceName == "" || d.Name == *forceName {
			def = d
			break
		}
	}
	if def == nil {
		return fmt.Errorf("no force definition %q in %s", *forceName, *configPath)
	}

	f, err := def.Realize()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(*scenePath)
	if err != nil {
		return err
	}
	var scene evalScene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return fmt.Errorf("parse %s: %w", *scenePath, err)
	}

	h := &host.StaticHost{Parameters: scene.Parameters}
	for _, p := range scene.Positions {
		h.Positions = append(h.Positions, host.Vec3(p))
	}
	if scene.Box != nil {
		for i := range scene.Box {
			h.Box[i] = host.Vec3(scene.Box[i])
		}
	} else {
		h.Box = [3]host.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}

	eng := engine.New(f)
	if err := eng.Initialize(ctx, h); err != nil {
		return err
	}
	defer eng.Close()

	energy, forces, err := eng.Evaluate(ctx, h)
	if err != nil {
		return err
	}

	result := evalResult{Energy: energy, Forces: make(map[int][3]float64, len(forces))}
	for i, v := range forces {
		result.Forces[i] = v
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCheckpoint(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("checkpoint expects a subcommand: save|list|export|delete")
	}

	switch args[0] {
	case "save":
		return runCheckpointSave(ctx, args[1:])
	case "list":
		return runCheckpointList(ctx, args[1:])
	case "export":
		return runCheckpointExport(ctx, args[1:])
	case "delete":
		return runCheckpointDelete(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown checkpoint subcommand: %s", args[0]))
	}
}

func openStore(ctx context.Context, kind, path string) (storage.Store, error) {
	store, err := storage.NewStore(kind, path)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func runCheckpointSave(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint save", flag.ContinueOnError)
	storeKind := fs.String("store", "badger", "store backend: memory|badger|sqlite")
	storePath := fs.String("store-path", "nnforce-checkpoints", "store directory or database path")
	label := fs.String("label", "", "checkpoint label")
	docPath := fs.String("doc", "", "force document to store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *docPath == "" {
		return usageError("checkpoint save requires -doc")
	}

	doc, err := os.ReadFile(*docPath)
	if err != nil {
		return err
	}
	if _, err := serialize.Unmarshal(doc); err != nil {
		return fmt.Errorf("refusing to store invalid document: %w", err)
	}

	store, err := openStore(ctx, *storeKind, *storePath)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)

	cp := storage.NewCheckpoint(*label, doc)
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}
	fmt.Println(cp.ID)
	return nil
}

func runCheckpointList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint list", flag.ContinueOnError)
	storeKind := fs.String("store", "badger", "store backend: memory|badger|sqlite")
	storePath := fs.String("store-path", "nnforce-checkpoints", "store directory or database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, *storeKind, *storePath)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)

	list, err := store.ListCheckpoints(ctx)
	if err != nil {
		return err
	}
	for _, cp := range list {
		fmt.Printf("%s  %s  %s\n", cp.ID, cp.CreatedAt.Format("2006-01-02T15:04:05Z"), cp.Label)
	}
	return nil
}

func runCheckpointExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint export", flag.ContinueOnError)
	storeKind := fs.String("store", "badger", "store backend: memory|badger|sqlite")
	storePath := fs.String("store-path", "nnforce-checkpoints", "store directory or database path")
	id := fs.String("id", "", "checkpoint ID")
	outPath := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return usageError("checkpoint export requires -id")
	}

	store, err := openStore(ctx, *storeKind, *storePath)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)

	cp, ok, err := store.GetCheckpoint(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("checkpoint %s not found", *id)
	}

	if *outPath == "" {
		fmt.Println(string(cp.Document))
		return nil
	}
	return os.WriteFile(*outPath, cp.Document, 0o644)
}

func runCheckpointDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint delete", flag.ContinueOnError)
	storeKind := fs.String("store", "badger", "store backend: memory|badger|sqlite")
	storePath := fs.String("store-path", "nnforce-checkpoints", "store directory or database path")
	id := fs.String("id", "", "checkpoint ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return usageError("checkpoint delete requires -id")
	}

	store, err := openStore(ctx, *storeKind, *storePath)
	if err != nil {
		return err
	}
	defer storage.CloseIfSupported(store)

	return store.DeleteCheckpoint(ctx, *id)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: nnforcectl <providers|validate|compile|inspect|eval|checkpoint> [flags]", msg)
}
