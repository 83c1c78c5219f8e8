package manager

import (
	"llamagen/internal/common/fsutil"
	"llamagen/pkg/types"
)

// resolve applies the default model to an empty id.
func (m *Manager) resolve(modelID string) (string, error) {
	if modelID != "" {
		return modelID, nil
	}
	if m.defaultModel != "" {
		return m.defaultModel, nil
	}
	if len(m.registry) == 1 {
		return m.registry[0].ID, nil
	}
	return "", modelNotFoundError{id: "(unspecified)"}
}

// Helper: find model in registry by id.
func (m *Manager) getModelByID(id string) (types.Model, bool) {
	for _, mdl := range m.registry {
		if mdl.ID == id {
			return mdl, true
		}
	}
	return types.Model{}, false
}

// estimateVRAMMB uses the model file size. Unknown sizes count as 1MB so
// the budget check is never bypassed.
func (m *Manager) estimateVRAMMB(mdl types.Model) int {
	mb, err := fsutil.SizeMB(mdl.Path)
	if err != nil {
		return 1
	}
	return mb
}
