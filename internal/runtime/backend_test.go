package runtime_test

import (
	"errors"
	"testing"

	"llamagen/internal/runtime"
	"llamagen/internal/runtime/runtimetest"
)

func TestLoadWithFallbackRetriesOnCPU(t *testing.T) {
	b := &runtimetest.Backend{GPULoadErr: errors.New("no cuda")}
	m, used, err := runtime.LoadWithFallback(b, "m.gguf", runtime.ModelParams{GPULayers: 33})
	if err != nil { t.Fatalf("load: %v", err) }
	if m == nil { t.Fatalf("expected model") }
	if used.GPULayers != 0 { t.Fatalf("expected cpu params, got %+v", used) }
	if len(b.Loads) != 2 || b.Loads[0].GPULayers != 33 || b.Loads[1].GPULayers != 0 {
		t.Fatalf("unexpected load attempts: %+v", b.Loads)
	}
}

func TestLoadWithFallbackNoRetryOnCPU(t *testing.T) {
	b := &runtimetest.Backend{LoadErr: errors.New("bad file")}
	if _, _, err := runtime.LoadWithFallback(b, "m.gguf", runtime.ModelParams{}); err == nil {
		t.Fatalf("expected error")
	}
	if len(b.Loads) != 1 { t.Fatalf("expected single attempt, got %d", len(b.Loads)) }
}

func TestLoadWithFallbackBothFail(t *testing.T) {
	b := &runtimetest.Backend{LoadErr: errors.New("bad file")}
	_, _, err := runtime.LoadWithFallback(b, "m.gguf", runtime.ModelParams{GPULayers: 10})
	if err == nil { t.Fatalf("expected error") }
	if len(b.Loads) != 2 { t.Fatalf("expected two attempts, got %d", len(b.Loads)) }
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := runtime.Open("tpu", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestStubErrorsAreUnavailable(t *testing.T) {
	if !runtime.IsUnavailable(runtime.ErrUnavailable("x")) {
		t.Fatalf("expected unavailable")
	}
	if runtime.IsUnavailable(errors.New("x")) {
		t.Fatalf("plain error must not be unavailable")
	}
}
