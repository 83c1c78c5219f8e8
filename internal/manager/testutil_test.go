package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"llamagen/internal/runtime"
	"llamagen/internal/runtime/runtimetest"
	"llamagen/internal/session"
	"llamagen/pkg/types"
)

// createModelFile creates a file of approximately sizeMB megabytes and returns its path.
func createModelFile(t *testing.T, dir, name string, sizeMB int) string {
	t.Helper()
	if sizeMB <= 0 {
		sizeMB = 1
	}
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	defer f.Close()
	block := make([]byte, 1024*1024)
	for i := 0; i < sizeMB; i++ {
		if _, err := f.Write(block); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return p
}

// newTestManager builds a manager over fake models m1..mN of sizeMB each.
func newTestManager(t *testing.T, b *runtimetest.Backend, n, sizeMB int, mutate ...func(*ManagerConfig)) (*Manager, *MemoryPublisher) {
	t.Helper()
	dir := t.TempDir()
	var reg []types.Model
	for i := 1; i <= n; i++ {
		id := "m" + string(rune('0'+i))
		reg = append(reg, types.Model{ID: id, Name: id, Path: createModelFile(t, dir, id+".gguf", sizeMB)})
	}
	pub := NewMemoryPublisher()
	cfg := ManagerConfig{
		Registry:     reg,
		DefaultModel: "m1",
		Session:      session.Config{Backend: b},
		Publisher:    pub,
		MaxWait:      50 * time.Millisecond,
		DrainTimeout: 200 * time.Millisecond,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func eventNames(p *MemoryPublisher) []string {
	var out []string
	for _, e := range p.Events() {
		out = append(out, e.Name)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func contextWithCancel() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

func runtimeInfo() runtime.ModelInfo {
	return runtime.ModelInfo{NVocab: 32000, Description: "llama 7B Q4_K - Medium"}
}
