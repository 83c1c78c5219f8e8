package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"llamagen/internal/session"
	"llamagen/pkg/types"
)

type Manager struct {
	mu           sync.RWMutex
	state        State
	cur          string
	err          string
	registry     []types.Model
	budgetMB     int
	marginMB     int
	defaultModel string
	instances    map[string]*Instance
	usedEstMB    int
	closed       bool

	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration

	sessionCfg session.Config
	loads      singleflight.Group
	publisher  EventPublisher
	log        zerolog.Logger
	startTime  time.Time
	opSeq      atomic.Uint64

	loadsTotal       atomic.Uint64
	generationsTotal atomic.Uint64
}

func New(reg []types.Model, sessionCfg session.Config, defaultModel string) *Manager {
	return NewWithConfig(ManagerConfig{
		Registry:     reg,
		DefaultModel: defaultModel,
		Session:      sessionCfg,
	})
}

// Ready reports whether any session can serve requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	for _, inst := range m.instances {
		if inst.State == StateReady {
			return true
		}
	}
	return false
}

func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Model, len(m.registry))
	copy(out, m.registry)
	return out
}

// Backend names the runtime backend sessions are opened with.
func (m *Manager) Backend() string {
	if m.sessionCfg.Backend == nil {
		return ""
	}
	return m.sessionCfg.Backend.Name()
}

// Close unloads every instance and rejects later requests.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	var errs []error
	for _, id := range ids {
		if err := m.Unload(id); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
