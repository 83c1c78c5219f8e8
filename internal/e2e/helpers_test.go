package e2e

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"llamagen/internal/httpapi"
	"llamagen/internal/manager"
	"llamagen/internal/registry"
	"llamagen/internal/runtime/runtimetest"
	"llamagen/internal/session"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs.
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var ids []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
		ids = append(ids, n[:len(n)-len(filepath.Ext(n))])
	}
	return dir, ids
}

// newServer scans modelsDir and serves the full stack over b.
func newServer(t *testing.T, modelsDir string, b *runtimetest.Backend, mutate ...func(*manager.ManagerConfig)) (*httptest.Server, *manager.Manager) {
	t.Helper()
	reg, err := registry.NewGGUFScanner().Scan(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	cfg := manager.ManagerConfig{
		Registry: reg,
		Session:  session.Config{Backend: b},
		MaxWait:  time.Second,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	mgr := manager.NewWithConfig(cfg)
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil { t.Fatalf("GET %s: %v", url, err) }
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func httpPost(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil { t.Fatalf("POST %s: %v", url, err) }
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decode(t *testing.T, b []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}
