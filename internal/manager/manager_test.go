package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"llamagen/internal/completion"
	"llamagen/internal/runtime/runtimetest"
	"llamagen/internal/session"
	"llamagen/pkg/types"
)

func TestNewWithConfigDefaults(t *testing.T) {
	m := NewWithConfig(ManagerConfig{})
	if m.maxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("expected default maxQueueDepth=%d got %d", defaultMaxQueueDepth, m.maxQueueDepth)
	}
	if m.maxWait != defaultMaxWait || m.drainTimeout != defaultDrainTimeout {
		t.Fatalf("unexpected waits %v %v", m.maxWait, m.drainTimeout)
	}
	if m.Snapshot().State != StateIdle || m.Ready() {
		t.Fatalf("expected idle manager")
	}
}

func TestListModelsReturnsCopy(t *testing.T) {
	reg := []types.Model{{ID: "a"}, {ID: "b"}}
	m := NewWithConfig(ManagerConfig{Registry: reg})
	out := m.ListModels()
	out[0].ID = "z"
	if m.ListModels()[0].ID != "a" {
		t.Fatalf("registry mutated via returned slice")
	}
}

func TestEnsureLoadsOnce(t *testing.T) {
	b := &runtimetest.Backend{}
	m, pub := newTestManager(t, b, 1, 1)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.EnsureInstance(testCtx(t), ""); err != nil {
				t.Errorf("ensure: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(b.Loads) != 1 { t.Fatalf("expected one load, got %d", len(b.Loads)) }
	if !m.Ready() || m.Snapshot().CurrentModel != "m1" { t.Fatalf("snapshot %+v", m.Snapshot()) }
	if names := eventNames(pub); !slices.Contains(names, "ensure_ready") { t.Fatalf("events %v", names) }
}

func TestEnsureUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{}, 1, 1)
	if err := m.EnsureInstance(testCtx(t), "nope"); !IsModelNotFound(err) { t.Fatalf("expected not found, got %v", err) }
	m2 := NewWithConfig(ManagerConfig{Registry: []types.Model{{ID: "a"}, {ID: "b"}}})
	if err := m2.EnsureInstance(testCtx(t), ""); !IsModelNotFound(err) { t.Fatalf("expected not found without default, got %v", err) }
}

func TestSingleModelIsImplicitDefault(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{}, 1, 1, func(c *ManagerConfig) { c.DefaultModel = "" })
	if err := m.EnsureInstance(testCtx(t), ""); err != nil { t.Fatalf("ensure: %v", err) }
}

func TestLoadFailureIsReported(t *testing.T) {
	b := &runtimetest.Backend{LoadErr: errors.New("bad magic")}
	m, pub := newTestManager(t, b, 1, 1)
	err := m.EnsureInstance(testCtx(t), "m1")
	if completion.KindOf(err) != completion.ModelLoadError { t.Fatalf("expected model load error, got %v", err) }
	st := m.Status()
	if st.State != "error" || len(st.Instances) != 1 || st.Instances[0].LastError == "" { t.Fatalf("status %+v", st) }
	if !slices.Contains(eventNames(pub), "ensure_error") { t.Fatalf("events %v", eventNames(pub)) }
	if m.usedEstMB != 0 { t.Fatalf("used estimate leaked: %d", m.usedEstMB) }

	b.LoadErr = nil
	if err := m.EnsureInstance(testCtx(t), "m1"); err != nil { t.Fatalf("retry: %v", err) }
}

func TestCloseRejectsLaterWork(t *testing.T) {
	b := &runtimetest.Backend{}
	m, _ := newTestManager(t, b, 1, 1)
	if err := m.EnsureInstance(testCtx(t), "m1"); err != nil { t.Fatalf("ensure: %v", err) }
	if err := m.Close(); err != nil { t.Fatalf("close: %v", err) }
	if !b.Model().Closed() { t.Fatalf("session model not closed") }
	if _, err := m.Complete(context.Background(), "m1", completion.Request{Prompt: completion.PromptText("p")}); !IsDependencyUnavailable(err) {
		t.Fatalf("expected unavailable after close, got %v", err)
	}
	if m.Ready() { t.Fatalf("closed manager must not be ready") }
}

func TestSessionTemplateReachesBackend(t *testing.T) {
	b := &runtimetest.Backend{}
	m, _ := newTestManager(t, b, 1, 1, func(c *ManagerConfig) {
		c.Session = session.Config{Backend: b, NPredict: 3}
		c.Session.Context.NCtx = 512
	})
	if err := m.EnsureInstance(testCtx(t), "m1"); err != nil { t.Fatalf("ensure: %v", err) }
	if got := b.Model().Context().Params.NCtx; got != 512 { t.Fatalf("n_ctx %d", got) }
	if st := m.Status(); st.Instances[0].NCtx != 512 || st.Backend != "fake" || st.LoadsTotal != 1 { t.Fatalf("status %+v", st) }
}
