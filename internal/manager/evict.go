package manager

// evictUntilFits closes LRU idle sessions until requiredMB fits the budget
// plus margin. keep is never evicted.
func (m *Manager) evictUntilFits(keep string, requiredMB int) error {
	for {
		m.mu.Lock()
		if m.usedEstMB+requiredMB+m.marginMB <= m.budgetMB {
			m.mu.Unlock()
			return nil
		}
		// Pick LRU idle instance (no queued or running requests)
		var lru *Instance
		for _, inst := range m.instances {
			if inst.ID == keep || inst.State != StateReady && inst.State != StateError {
				continue
			}
			if len(inst.queueCh) > 0 || (inst.sess != nil && inst.sess.Busy()) {
				continue
			}
			if lru == nil || inst.LastUsed.Before(lru.LastUsed) {
				lru = inst
			}
		}
		if lru == nil {
			m.mu.Unlock()
			return budgetExceededError{modelID: keep, required: requiredMB}
		}
		sess := lru.sess
		delete(m.instances, lru.ID)
		if lru.State == StateReady {
			m.usedEstMB -= lru.EstVRAMMB
		}
		if m.cur == lru.ID {
			m.cur = ""
		}
		m.mu.Unlock()

		if sess != nil {
			if err := sess.Close(); err != nil {
				m.log.Warn().Str("model", lru.ID).Err(err).Msg("close evicted session")
			}
		}
		m.emit("evicted", lru.ID, "est_vram_mb", lru.EstVRAMMB, "for", keep)
	}
}
