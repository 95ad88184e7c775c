// Package backend resolves a session's execution provider chain.
//
// A descriptor names a single provider preference; the chain built here is
// the ordered list of providers the inference session may dispatch across.
// GPU providers are appended only when their runtime support is present in
// the build, and an explicitly requested provider that is absent is a hard
// error. The CPU provider is always the final entry, so a Default request
// succeeds on every build.
package backend

import (
	"errors"
	"fmt"
)

type Provider int

const (
	// Default selects the fastest provider available in this build.
	Default Provider = iota
	// CPU is always available.
	CPU
	CUDA
	TensorRT
	ROCm
)

var providerNames = map[Provider]string{
	Default:  "default",
	CPU:      "cpu",
	CUDA:     "cuda",
	TensorRT: "tensorrt",
	ROCm:     "rocm",
}

func (p Provider) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

func ParseProvider(name string) (Provider, error) {
	for p, n := range providerNames {
		if n == name {
			return p, nil
		}
	}
	return Default, fmt.Errorf("unknown execution provider: %s", name)
}

var (
	ErrUnavailable = errors.New("execution provider unavailable")
	ErrBadOption   = errors.New("invalid provider option")
)

// Entry is one resolved link of the fallback chain.
type Entry struct {
	Provider Provider
	Options  map[string]string
}

// BuildChain resolves the provider preference into an ordered fallback
// chain. useGraphs must be exactly "true" or "false"; it is validated
// before any availability probing so a bad value fails the same way on
// every build. deviceIndex is passed through to each provider's options.
func BuildChain(p Provider, deviceIndex, useGraphs string) ([]Entry, error) {
	var graphMode string
	switch useGraphs {
	case "true":
		graphMode = "1"
	case "false":
		graphMode = "0"
	default:
		return nil, fmt.Errorf("%w: UseGraphs must be \"true\" or \"false\", got %q", ErrBadOption, useGraphs)
	}

	var chain []Entry
	if p == TensorRT || p == Default {
		if Available(TensorRT) {
			chain = append(chain, Entry{TensorRT, tensorrtOptions(deviceIndex, graphMode)})
		} else if p == TensorRT {
			return nil, fmt.Errorf("%w: tensorrt", ErrUnavailable)
		}
	}
	if p == CUDA || p == Default {
		if Available(CUDA) {
			chain = append(chain, Entry{CUDA, cudaOptions(deviceIndex, graphMode)})
		} else if p == CUDA {
			return nil, fmt.Errorf("%w: cuda", ErrUnavailable)
		}
	}
	if p == ROCm || p == Default {
		if Available(ROCm) {
			chain = append(chain, Entry{ROCm, rocmOptions(deviceIndex, graphMode)})
		} else if p == ROCm {
			return nil, fmt.Errorf("%w: rocm", ErrUnavailable)
		}
	}

	// The CPU provider needs no probe and terminates every chain.
	chain = append(chain, Entry{Provider: CPU})
	return chain, nil
}

func tensorrtOptions(deviceIndex, graphMode string) map[string]string {
	return map[string]string{
		"device_id":             deviceIndex,
		"trt_cuda_graph_enable": graphMode,
	}
}

func cudaOptions(deviceIndex, graphMode string) map[string]string {
	return map[string]string{
		"device_id":         deviceIndex,
		"use_tf32":          "0",
		"enable_cuda_graph": graphMode,
	}
}

func rocmOptions(deviceIndex, graphMode string) map[string]string {
	return map[string]string{
		"device_id":        deviceIndex,
		"enable_hip_graph": graphMode,
	}
}
