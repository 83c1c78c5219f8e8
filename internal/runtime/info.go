package runtime

import "strings"

// ModelInfo describes a loaded model.
type ModelInfo struct {
	NParams      uint64 `json:"n_params"`
	NVocab       int    `json:"n_vocab"`
	NCtxTrain    int    `json:"n_context"`
	NEmbd        int    `json:"n_embd"`
	Description  string `json:"description"`
	GPUSupported bool   `json:"gpu_supported"`
	GPULayers    int    `json:"gpu_layers"`
	QuantType    string `json:"quant_type,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

// QuantFromDescription extracts the quantization label from a llama.cpp model
// description such as "llama 7B Q4_K - Medium". Returns "" when absent.
func QuantFromDescription(desc string) string {
	i := strings.Index(desc, " Q")
	if i < 0 {
		return ""
	}
	rest := desc[i+1:]
	if j := strings.IndexByte(rest, ' '); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// ArchFromDescription returns the leading architecture word of a description.
func ArchFromDescription(desc string) string {
	f := strings.Fields(desc)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// fillDerived completes the fields computed from the description.
func (mi *ModelInfo) fillDerived() {
	if mi.QuantType == "" {
		mi.QuantType = QuantFromDescription(mi.Description)
	}
	if mi.Architecture == "" {
		mi.Architecture = ArchFromDescription(mi.Description)
	}
}
