package manager

import "llamagen/internal/common/fsutil"

// SanityReport describes startup checks of the runtime and the registry.
type SanityReport struct {
	Backend       string   `json:"backend"`
	BackendFound  bool     `json:"backend_found"`
	Models        int      `json:"models"`
	DefaultFound  bool     `json:"default_found"`
	MissingModels []string `json:"missing_models,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// OK reports whether the manager can serve at least one model.
func (r SanityReport) OK() bool {
	return r.Error == "" && r.BackendFound && r.Models > len(r.MissingModels)
}

// SanityCheck validates that a backend is configured and registry files
// exist. It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{Backend: m.Backend(), BackendFound: m.sessionCfg.Backend != nil}
	m.mu.RLock()
	reg := append(m.registry[:0:0], m.registry...)
	m.mu.RUnlock()
	r.Models = len(reg)
	for _, mdl := range reg {
		if !fsutil.IsFile(mdl.Path) {
			r.MissingModels = append(r.MissingModels, mdl.ID)
		}
	}
	if m.defaultModel == "" {
		r.DefaultFound = len(reg) == 1
	} else {
		_, r.DefaultFound = m.getModelByID(m.defaultModel)
	}
	switch {
	case !r.BackendFound:
		r.Error = "no runtime backend configured"
	case r.Models == 0:
		r.Error = "no models found"
	case m.defaultModel != "" && !r.DefaultFound:
		r.Error = "default model not in registry: " + m.defaultModel
	}
	return r
}
