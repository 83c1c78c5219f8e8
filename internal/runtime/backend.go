package runtime

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendYzma  = "yzma"
	BackendLlama = "llama"
)

// Open returns the backend registered under name. libPath is only used by
// backends that load a shared library at runtime.
func Open(name, libPath string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendYzma:
		return NewYzma(libPath)
	case BackendLlama:
		return NewGoLlama()
	default:
		return nil, fmt.Errorf("unknown runtime backend: %q", name)
	}
}

// LoadWithFallback loads path with p and, when that fails with GPU offload
// requested, retries once on CPU only. The returned params are the ones
// that succeeded.
func LoadWithFallback(b Backend, path string, p ModelParams) (Model, ModelParams, error) {
	m, err := b.LoadModel(path, p)
	if err == nil {
		return m, p, nil
	}
	if p.GPULayers <= 0 || IsUnavailable(err) {
		return nil, p, err
	}
	cpu := p
	cpu.GPULayers = 0
	m, cpuErr := b.LoadModel(path, cpu)
	if cpuErr != nil {
		return nil, p, fmt.Errorf("load model (gpu: %v; cpu fallback: %w)", err, cpuErr)
	}
	return m, cpu, nil
}
