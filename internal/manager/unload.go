package manager

import "time"

// Unload drains a model instance and closes its session.
//   - Sets instance state to draining to reject new enqueues.
//   - Waits up to drainTimeout for queued and running requests to finish.
//   - Closes the session, cancelling background jobs, and removes the entry.
func (m *Manager) Unload(modelID string) error {
	if modelID == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	inst := m.instances[modelID]
	if inst == nil {
		m.mu.Unlock()
		return ErrModelNotFound(modelID)
	}
	counted := inst.State == StateReady || inst.State == StateLoading
	inst.State = StateDraining
	m.mu.Unlock()
	m.emit("unload_start", modelID)

	deadline := time.Now().Add(m.drainTimeout)
	for {
		qlen := len(inst.queueCh)
		busy := inst.sess != nil && inst.sess.Busy()
		if qlen == 0 && !busy {
			break
		}
		if time.Now().After(deadline) {
			m.emit("unload_timeout", modelID, "busy", busy, "queue", qlen)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	var err error
	if inst.sess != nil {
		err = inst.sess.Close()
	}

	m.mu.Lock()
	if m.instances[modelID] == inst {
		delete(m.instances, modelID)
		if counted {
			m.usedEstMB -= inst.EstVRAMMB
			if m.usedEstMB < 0 {
				m.usedEstMB = 0
			}
		}
	}
	if m.cur == modelID {
		m.cur = ""
	}
	m.mu.Unlock()

	m.emit("unload_done", modelID)
	return err
}
