package manager

import (
	"context"
	"time"
)

// admit reserves a queue slot on the instance for the whole call. Waiting
// for the inference context itself happens in the session. Returns a
// release func to be deferred.
func (m *Manager) admit(ctx context.Context, inst *Instance) (func(), error) {
	m.mu.RLock()
	draining := inst.State == StateDraining
	m.mu.RUnlock()
	if draining {
		return func() {}, tooBusyError{modelID: inst.ID}
	}
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	start := time.Now()
	timer := time.NewTimer(m.maxWait)
	defer timer.Stop()
	select {
	case inst.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		backpressureTotal.WithLabelValues(inst.ID).Inc()
		return func() {}, tooBusyError{modelID: inst.ID}
	}
	queueWait.WithLabelValues(inst.ID).Observe(time.Since(start).Seconds())
	m.mu.Lock()
	inst.LastUsed = time.Now()
	m.mu.Unlock()
	return func() { <-inst.queueCh }, nil
}
