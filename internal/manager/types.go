package manager

import (
	"time"

	"llamagen/internal/session"
)

// State represents lifecycle state of the manager/instances.
type State string

const (
	StateIdle     State = "idle"
	StateReady    State = "ready"
	StateLoading  State = "loading"
	StateError    State = "error"
	StateDraining State = "draining"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State        State
	CurrentModel string
	Err          string
}

// Instance is one registry model and, once ready, its open session.
type Instance struct {
	ID        string
	State     State
	LastUsed  time.Time
	EstVRAMMB int
	LastError string

	sess *session.Session
	// buffered: queue slots held for the whole call
	queueCh chan struct{}
}
