// Package sampling wraps a runtime sampler with an optional grammar
// constraint and owns the accept/reset rules around prefill.
package sampling

import (
	"fmt"

	"llamagen/internal/runtime"
	"llamagen/pkg/types"
)

// DefaultSeed asks the backend for a random seed.
const DefaultSeed uint32 = 0xFFFFFFFF

// Config is the sampling configuration of one request.
type Config struct {
	Seed          uint32   `json:"seed" yaml:"seed" toml:"seed"`
	Temperature   float32  `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopK          int      `json:"top_k" yaml:"top_k" toml:"top_k"`
	TopP          float32  `json:"top_p" yaml:"top_p" toml:"top_p"`
	MinP          float32  `json:"min_p" yaml:"min_p" toml:"min_p"`
	RepeatPenalty float32  `json:"repeat_penalty" yaml:"repeat_penalty" toml:"repeat_penalty"`
	RepeatLastN   int      `json:"repeat_last_n" yaml:"repeat_last_n" toml:"repeat_last_n"`
	Grammar       string   `json:"grammar,omitempty" yaml:"grammar" toml:"grammar"`
	GrammarLazy   bool     `json:"grammar_lazy,omitempty" yaml:"grammar_lazy" toml:"grammar_lazy"`
	Triggers      []string `json:"grammar_triggers,omitempty" yaml:"grammar_triggers" toml:"grammar_triggers"`

	// Explicit marks the fields a request set, zero values included.
	Explicit Field `json:"-" yaml:"-" toml:"-"`
}

// Field is a bit set of sampling parameters.
type Field uint8

const (
	FieldSeed Field = 1 << iota
	FieldTemperature
	FieldTopK
	FieldTopP
	FieldMinP
	FieldRepeatPenalty
	FieldRepeatLastN
)

// Has reports whether every field in x is set in f.
func (f Field) Has(x Field) bool { return f&x == x }

// Apply copies the options present in o into c and marks them explicit.
func (c *Config) Apply(o types.SamplingOptions) {
	if o.Seed != nil {
		c.Seed, c.Explicit = *o.Seed, c.Explicit|FieldSeed
	}
	if o.Temperature != nil {
		c.Temperature, c.Explicit = *o.Temperature, c.Explicit|FieldTemperature
	}
	if o.TopK != nil {
		c.TopK, c.Explicit = *o.TopK, c.Explicit|FieldTopK
	}
	if o.TopP != nil {
		c.TopP, c.Explicit = *o.TopP, c.Explicit|FieldTopP
	}
	if o.MinP != nil {
		c.MinP, c.Explicit = *o.MinP, c.Explicit|FieldMinP
	}
	if o.RepeatPenalty != nil {
		c.RepeatPenalty, c.Explicit = *o.RepeatPenalty, c.Explicit|FieldRepeatPenalty
	}
	if o.RepeatLastN != nil {
		c.RepeatLastN, c.Explicit = *o.RepeatLastN, c.Explicit|FieldRepeatLastN
	}
}

// Merge returns c with every zero field not marked explicit taken from def.
// Grammar fields are never inherited.
func (c Config) Merge(def Config) Config {
	inherit := func(f Field, zero bool) bool { return zero && !c.Explicit.Has(f) }
	if inherit(FieldSeed, c.Seed == 0) {
		c.Seed = def.Seed
	}
	if inherit(FieldTemperature, c.Temperature == 0) {
		c.Temperature = def.Temperature
	}
	if inherit(FieldTopK, c.TopK == 0) {
		c.TopK = def.TopK
	}
	if inherit(FieldTopP, c.TopP == 0) {
		c.TopP = def.TopP
	}
	if inherit(FieldMinP, c.MinP == 0) {
		c.MinP = def.MinP
	}
	if inherit(FieldRepeatPenalty, c.RepeatPenalty == 0) {
		c.RepeatPenalty = def.RepeatPenalty
	}
	if inherit(FieldRepeatLastN, c.RepeatLastN == 0) {
		c.RepeatLastN = def.RepeatLastN
	}
	return c
}

// HasGrammar reports whether a grammar constraint is configured.
func (c Config) HasGrammar() bool { return c.Grammar != "" }

// AcceptsPrompt reports whether prompt tokens are fed to the sampler during
// prefill: always without a grammar, and for lazy grammars so their trigger
// detection sees the prompt. A non-lazy grammar must start generation from
// its initial state, so it never sees the prompt.
func (c Config) AcceptsPrompt() bool { return !c.HasGrammar() || c.GrammarLazy }

func (c Config) params() runtime.SamplerParams {
	return runtime.SamplerParams{
		Seed:          c.Seed,
		Temperature:   c.Temperature,
		Greedy:        c.Explicit.Has(FieldTemperature) && c.Temperature <= 0,
		TopK:          c.TopK,
		TopP:          c.TopP,
		MinP:          c.MinP,
		RepeatPenalty: c.RepeatPenalty,
		RepeatLastN:   c.RepeatLastN,
		Grammar:       c.Grammar,
		GrammarLazy:   c.GrammarLazy,
		TriggerWords:  append([]string(nil), c.Triggers...),
	}
}

// Factory builds runtime samplers; runtime.Context satisfies it.
type Factory interface {
	NewSampler(p runtime.SamplerParams) (runtime.Sampler, error)
}

// Controller owns one runtime sampler built from a fixed Config.
type Controller struct {
	f   Factory
	cfg Config
	s   runtime.Sampler
}

// New builds the sampler. A construction failure (for example a malformed
// grammar) is returned as an error; callers classify it as an inference error.
func New(f Factory, cfg Config) (*Controller, error) {
	s, err := f.NewSampler(cfg.params())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sampler: %w", err)
	}
	return &Controller{f: f, cfg: cfg, s: s}, nil
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// Accept records tok; applyGrammar also advances the grammar automaton.
func (c *Controller) Accept(tok runtime.Token, applyGrammar bool) {
	c.s.Accept(tok, applyGrammar)
}

// Sample picks the next token.
func (c *Controller) Sample() (runtime.Token, error) { return c.s.Sample() }

// Rebuild discards the sampler and builds a fresh one from the same config.
// On failure the controller keeps no sampler and must not be used again.
func (c *Controller) Rebuild() error {
	c.s.Close()
	s, err := c.f.NewSampler(c.cfg.params())
	if err != nil {
		c.s = nopSampler{}
		return fmt.Errorf("failed to rebuild sampler: %w", err)
	}
	c.s = s
	return nil
}

// StartGeneration is called once prefill is done. A non-lazy grammar gets a
// rebuilt sampler so its state is clean exactly when generation begins.
func (c *Controller) StartGeneration() error {
	if c.cfg.HasGrammar() && !c.cfg.GrammarLazy {
		return c.Rebuild()
	}
	return nil
}

// Close releases the sampler. Safe to call more than once.
func (c *Controller) Close() {
	c.s.Close()
	c.s = nopSampler{}
}

type nopSampler struct{}

func (nopSampler) Sample() (runtime.Token, error) {
	return 0, fmt.Errorf("sampler closed")
}
func (nopSampler) Accept(runtime.Token, bool) {}
func (nopSampler) Close()                      {}
