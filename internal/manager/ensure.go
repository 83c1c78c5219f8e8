package manager

import (
	"context"
	"time"

	"llamagen/internal/session"
)

// EnsureInstance makes sure modelID has an open session, loading it on first
// use. Concurrent callers for the same model share one load. An empty id
// selects the default model.
func (m *Manager) EnsureInstance(ctx context.Context, modelID string) error {
	_, err := m.ensure(ctx, modelID)
	return err
}

func (m *Manager) ensure(ctx context.Context, modelID string) (*Instance, error) {
	modelID, err := m.resolve(modelID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	if inst := m.instances[modelID]; inst != nil && inst.State == StateReady {
		inst.LastUsed = time.Now()
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	if _, ok := m.getModelByID(modelID); !ok {
		m.emit("ensure_model_not_found", modelID)
		return nil, ErrModelNotFound(modelID)
	}

	ch := m.loads.DoChan(modelID, func() (any, error) { return m.load(modelID) })
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Instance), nil
	case <-ctx.Done():
		// The load keeps going for later callers.
		return nil, ctx.Err()
	}
}

// load opens the session of a registry model. It runs at most once per id
// at a time.
func (m *Manager) load(modelID string) (*Instance, error) {
	startTs := time.Now()
	mdl, _ := m.getModelByID(modelID)

	m.mu.Lock()
	if inst := m.instances[modelID]; inst != nil && inst.State == StateReady {
		m.mu.Unlock()
		return inst, nil
	}
	m.mu.Unlock()

	m.emit("ensure_start", modelID)
	reqMB := m.estimateVRAMMB(mdl)
	if m.budgetMB > 0 {
		if err := m.evictUntilFits(modelID, reqMB); err != nil {
			m.emit("ensure_budget_fail", modelID, "error", err.Error())
			return nil, err
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errClosed
	}
	inst := m.instances[modelID]
	if inst == nil {
		inst = &Instance{ID: modelID, queueCh: make(chan struct{}, m.maxQueueDepth)}
		m.instances[modelID] = inst
	}
	inst.State = StateLoading
	inst.EstVRAMMB = reqMB
	inst.LastUsed = time.Now()
	inst.LastError = ""
	m.state = StateLoading
	m.err = ""
	m.usedEstMB += reqMB
	m.mu.Unlock()

	cfg := m.sessionCfg
	cfg.ModelPath = mdl.Path
	cfg.Logger = m.log
	sess, err := session.Open(cfg)
	if err != nil {
		m.mu.Lock()
		inst.State = StateError
		inst.LastError = err.Error()
		m.usedEstMB -= reqMB
		m.state = StateError
		m.err = err.Error()
		m.mu.Unlock()
		modelLoadsTotal.WithLabelValues(modelID, "error").Inc()
		m.log.Error().Str("model", modelID).Err(err).Msg("model load failed")
		m.emit("ensure_error", modelID, "error", err.Error())
		return nil, err
	}

	m.mu.Lock()
	if m.closed || m.instances[modelID] != inst || inst.State != StateLoading {
		m.mu.Unlock()
		_ = sess.Close()
		return nil, ErrDependencyUnavailable("model " + modelID + " was unloaded while loading")
	}
	inst.sess = sess
	inst.State = StateReady
	inst.LastUsed = time.Now()
	m.cur = modelID
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()
	m.loadsTotal.Add(1)
	dur := time.Since(startTs)
	modelLoadsTotal.WithLabelValues(modelID, "ok").Inc()
	modelLoadSeconds.WithLabelValues(modelID).Observe(dur.Seconds())
	m.emit("ensure_ready", modelID, "dur_ms", int(dur / time.Millisecond))
	return inst, nil
}
