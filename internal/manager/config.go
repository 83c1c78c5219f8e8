package manager

import (
	"time"

	"github.com/rs/zerolog"

	"llamagen/internal/session"
	"llamagen/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Registry      []types.Model
	BudgetMB      int
	MarginMB      int
	DefaultModel  string
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	// Session is the template every model is opened with; ModelPath is
	// filled from the registry.
	Session   session.Config
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:        StateIdle,
		registry:     append([]types.Model(nil), cfg.Registry...),
		budgetMB:     cfg.BudgetMB,
		marginMB:     cfg.MarginMB,
		defaultModel: cfg.DefaultModel,
		instances:    make(map[string]*Instance),
		sessionCfg:   cfg.Session,
		publisher:    cfg.Publisher,
		log:          cfg.Logger,
		startTime:    time.Now(),
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	return m
}
