package manager

import (
	"sort"
	"time"

	"llamagen/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state, CurrentModel: m.cur, Err: m.err}
}

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	resp := types.StatusResponse{
		Backend:          m.Backend(),
		UptimeSeconds:    int64(now.Sub(m.startTime) / time.Second),
		ServerTimeUnix:   now.Unix(),
		LoadsTotal:       m.loadsTotal.Load(),
		GenerationsTotal: m.generationsTotal.Load(),
		State:            string(m.state),
	}
	resp.Instances = make([]types.InstanceStatus, 0, len(m.instances))
	for _, inst := range m.instances {
		st := types.InstanceStatus{
			ModelID:       inst.ID,
			State:         string(inst.State),
			LastUsed:      inst.LastUsed.Unix(),
			QueueLen:      len(inst.queueCh),
			MaxQueueDepth: cap(inst.queueCh),
			LastError:     inst.LastError,
		}
		if inst.sess != nil {
			st.Busy = inst.sess.Busy()
			st.NCtx = inst.sess.NCtx()
		}
		resp.Instances = append(resp.Instances, st)
	}
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].ModelID < resp.Instances[j].ModelID })
	return resp
}
