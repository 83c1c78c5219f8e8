// Package runtime is the boundary between the generation engine and the
// numeric inference backend. The engine only sees the interfaces declared
// here; concrete backends live behind build tags:
//
//   - yzma.go (`-tags=yzma`): purego bindings to a prebuilt llama.cpp shared
//     library via github.com/hybridgroup/yzma. Per-token decode and sampling.
//   - gollama.go (`-tags=llama`): cgo bindings via github.com/go-skynet/go-llama.cpp.
//     The library only exposes whole-prompt prediction, so the backend drives
//     Predict on a goroutine and hands tokens out one at a time.
//
// Without either tag the constructors return an unavailable error, keeping
// default builds free of native dependencies. Tests use runtimetest.
package runtime

// Token is a vocabulary token id.
type Token int32

// Backend loads models.
type Backend interface {
	Name() string
	LoadModel(path string, p ModelParams) (Model, error)
}

// ModelParams controls how weights are loaded.
type ModelParams struct {
	GPULayers int
	UseMMap   bool
}

// LoRA is an adapter applied when a context is created.
type LoRA struct {
	Path  string  `json:"path" yaml:"path" toml:"path"`
	Scale float32 `json:"scale" yaml:"scale" toml:"scale"`
}

// ContextParams controls the inference context.
type ContextParams struct {
	NCtx    int
	NBatch  int
	NUBatch int
	Threads int
	Seed    uint32
	LoRA    []LoRA
}

// Model is a loaded set of weights plus its vocabulary. It is immutable after
// load and may be shared by concurrent readers (tokenize, info).
type Model interface {
	Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error)
	TokenToText(tok Token) string
	EOS() Token
	// ChatTemplate returns the Jinja chat template bound to the model, or "".
	ChatTemplate() string
	Info() ModelInfo
	NewContext(p ContextParams) (Context, error)
	// Embed returns the pooled embedding of tokens using a short-lived
	// embedding context; it never touches generation contexts.
	Embed(tokens []Token) ([]float32, error)
	Close() error
}

// Context is the mutable KV-cache-bearing state. A Context is single-writer:
// callers must serialize Decode, Clear and sampler use.
type Context interface {
	NCtx() int
	// Decode runs one forward pass over tokens placed at positions
	// pos..pos+len(tokens)-1.
	Decode(tokens []Token, pos int) error
	// Clear drops the KV cache so the next Decode starts at position 0.
	Clear() error
	NewSampler(p SamplerParams) (Sampler, error)
	Close() error
}

// SamplerParams configures one sampler instance.
type SamplerParams struct {
	Seed          uint32
	Temperature   float32
	// Greedy always picks the most likely token; Temperature is ignored.
	Greedy        bool
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int

	Grammar       string
	GrammarLazy   bool
	TriggerWords  []string
	TriggerTokens []Token
}

// Sampler picks the next token from the logits of the last decoded position.
type Sampler interface {
	Sample() (Token, error)
	// Accept records tok in the sampler history. When applyGrammar is false
	// the grammar automaton is left untouched.
	Accept(tok Token, applyGrammar bool)
	Close()
}
