package manager

import (
	"context"
	"strconv"
)

// Switch loads modelID in the background and returns an operation ID.
// Callers poll Status() or subscribe to events to observe the outcome.
func (m *Manager) Switch(modelID string) (string, error) {
	id, err := m.resolve(modelID)
	if err != nil {
		return "", err
	}
	if _, ok := m.getModelByID(id); !ok {
		return "", ErrModelNotFound(id)
	}
	op := m.nextOpID()
	go func() {
		// Detached so the load survives the caller's request.
		if err := m.EnsureInstance(context.Background(), id); err != nil {
			m.emit("switch_failed", id, "op", op, "error", err.Error())
			return
		}
		m.emit("switch_done", id, "op", op)
	}()
	return op, nil
}

func (m *Manager) nextOpID() string {
	return "op-" + strconv.FormatUint(m.opSeq.Add(1), 10)
}
