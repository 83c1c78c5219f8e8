package types

// Model represents a discoverable or loadable GGUF model on disk.
type Model struct {
	// Stable identifier for the model.
	// example: qwen2.5-0.5b-instruct-q4_k_m
	ID string `json:"id" example:"qwen2.5-0.5b-instruct-q4_k_m"`
	// Human-friendly name.
	// example: qwen2.5 0.5b instruct (Q4_K_M)
	Name string `json:"name" example:"qwen2.5 0.5b instruct (Q4_K_M)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/qwen2.5-0.5b-instruct-q4_k_m.gguf
	Path string `json:"path" example:"/home/user/models/qwen2.5-0.5b-instruct-q4_k_m.gguf"`
	// Quantization level or variant string.
	// example: Q4_K_M
	Quant string `json:"quant" example:"Q4_K_M"`
	// Optional family (e.g., llama, qwen2, phi3).
	// example: qwen2
	Family string `json:"family,omitempty" example:"qwen2"`
}

// ModelInfo describes a loaded model as reported by the runtime.
type ModelInfo struct {
	Model
	// Number of parameters.
	// example: 494032768
	NParams uint64 `json:"n_params" example:"494032768"`
	// Vocabulary size.
	// example: 151936
	NVocab int `json:"n_vocab" example:"151936"`
	// Context length the model was trained with.
	// example: 32768
	NCtxTrain int `json:"n_context" example:"32768"`
	// Embedding width.
	// example: 896
	NEmbd int `json:"n_embd" example:"896"`
	// Runtime description string.
	// example: qwen2 1B Q4_K - Medium
	Description string `json:"description" example:"qwen2 1B Q4_K - Medium"`
	// Whether the backend can offload layers to a GPU.
	GPUSupported bool `json:"gpu_supported"`
	// GPU layers actually used after fallback.
	// example: 99
	GPULayers int `json:"n_gpu_layers" example:"99"`
	// Chat format detected from the model's bound template.
	// example: hermes
	ChatFormat string `json:"chat_format" example:"hermes"`
}
