package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"llamagen/internal/chat"
	"llamagen/internal/runtime"
	"llamagen/internal/sampling"
	"llamagen/internal/toolcall"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by defaults downstream.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	VRAMBudgetMB int    `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	VRAMMarginMB int    `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb"`

	// Runtime
	Backend    string `json:"backend" yaml:"backend" toml:"backend"`
	LibPath    string `json:"lib_path" yaml:"lib_path" toml:"lib_path"`
	NCtx       int    `json:"n_ctx" yaml:"n_ctx" toml:"n_ctx"`
	NBatch     int    `json:"n_batch" yaml:"n_batch" toml:"n_batch"`
	NUBatch    int    `json:"n_ubatch" yaml:"n_ubatch" toml:"n_ubatch"`
	Threads    int    `json:"threads" yaml:"threads" toml:"threads"`
	NGPULayers int    `json:"n_gpu_layers" yaml:"n_gpu_layers" toml:"n_gpu_layers"`
	UseMMap    *bool  `json:"use_mmap" yaml:"use_mmap" toml:"use_mmap"`
	Seed       uint32 `json:"seed" yaml:"seed" toml:"seed"`
	LoRA       []runtime.LoRA `json:"lora" yaml:"lora" toml:"lora"`

	// Generation
	NPredict int             `json:"n_predict" yaml:"n_predict" toml:"n_predict"`
	Sampling sampling.Config `json:"sampling" yaml:"sampling" toml:"sampling"`

	// Chat
	ChatTemplate       string            `json:"chat_template" yaml:"chat_template" toml:"chat_template"`
	UseJinja           *bool             `json:"use_jinja" yaml:"use_jinja" toml:"use_jinja"`
	ReasoningFormat    string            `json:"reasoning_format" yaml:"reasoning_format" toml:"reasoning_format"`
	ReasoningInContent bool              `json:"reasoning_in_content" yaml:"reasoning_in_content" toml:"reasoning_in_content"`
	ChatTemplateKwargs map[string]string `json:"chat_template_kwargs" yaml:"chat_template_kwargs" toml:"chat_template_kwargs"`

	// Serving
	MaxQueueDepth int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int      `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	JobTTLSeconds int      `json:"job_ttl_seconds" yaml:"job_ttl_seconds" toml:"job_ttl_seconds"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes  int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel      string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat     string   `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate reports every inconsistent value at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Backend) {
	case "", "yzma", "llama":
	default:
		errs = append(errs, fmt.Errorf("backend: unknown %q (want yzma or llama)", c.Backend))
	}
	for name, v := range map[string]int{"n_ctx": c.NCtx, "n_batch": c.NBatch, "n_ubatch": c.NUBatch, "threads": c.Threads, "n_gpu_layers": c.NGPULayers, "max_queue_depth": c.MaxQueueDepth, "max_wait_ms": c.MaxWaitMS, "job_ttl_seconds": c.JobTTLSeconds} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	if c.NBatch > 0 && c.NUBatch > c.NBatch {
		errs = append(errs, fmt.Errorf("n_ubatch: %d exceeds n_batch %d", c.NUBatch, c.NBatch))
	}
	if c.NCtx > 0 && c.NPredict > c.NCtx {
		errs = append(errs, fmt.Errorf("n_predict: %d exceeds n_ctx %d", c.NPredict, c.NCtx))
	}
	if c.VRAMMarginMB < 0 || c.VRAMBudgetMB < 0 {
		errs = append(errs, errors.New("vram budget and margin must not be negative"))
	}
	if c.Sampling.Temperature < 0 {
		errs = append(errs, errors.New("sampling.temperature: must not be negative"))
	}
	if c.Sampling.TopP < 0 || c.Sampling.TopP > 1 {
		errs = append(errs, errors.New("sampling.top_p: must be within [0, 1]"))
	}
	if c.Sampling.MinP < 0 || c.Sampling.MinP > 1 {
		errs = append(errs, errors.New("sampling.min_p: must be within [0, 1]"))
	}
	switch strings.ToLower(c.ReasoningFormat) {
	case "", "none", "deepseek", "auto":
	default:
		errs = append(errs, fmt.Errorf("reasoning_format: unknown %q", c.ReasoningFormat))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown %q", c.LogFormat))
	}
	for i, l := range c.LoRA {
		if strings.TrimSpace(l.Path) == "" {
			errs = append(errs, fmt.Errorf("lora[%d]: path is required", i))
		}
	}
	return errors.Join(errs...)
}

// MMap reports whether weights are memory mapped; defaults to true.
func (c Config) MMap() bool { return c.UseMMap == nil || *c.UseMMap }

// Jinja reports whether model templates are rendered; defaults to true.
func (c Config) Jinja() bool { return c.UseJinja == nil || *c.UseJinja }

// MaxWait is the admission wait; 0 leaves the manager default.
func (c Config) MaxWait() time.Duration { return time.Duration(c.MaxWaitMS) * time.Millisecond }

// JobTTL is how long finished async jobs stay retrievable.
func (c Config) JobTTL() time.Duration { return time.Duration(c.JobTTLSeconds) * time.Second }

func (c Config) ModelParams() runtime.ModelParams {
	return runtime.ModelParams{GPULayers: c.NGPULayers, UseMMap: c.MMap()}
}

func (c Config) ContextParams() runtime.ContextParams {
	return runtime.ContextParams{
		NCtx:    c.NCtx,
		NBatch:  c.NBatch,
		NUBatch: c.NUBatch,
		Threads: c.Threads,
		Seed:    c.Seed,
		LoRA:    append([]runtime.LoRA(nil), c.LoRA...),
	}
}

func (c Config) ChatOptions() chat.Options {
	kw := make(map[string]string, len(c.ChatTemplateKwargs))
	for k, v := range c.ChatTemplateKwargs {
		kw[k] = v
	}
	return chat.Options{
		Template:           c.ChatTemplate,
		UseJinja:           c.Jinja(),
		ReasoningFormat:    toolcall.ParseReasoningFormat(c.ReasoningFormat),
		ReasoningInContent: c.ReasoningInContent,
		Kwargs:             kw,
	}
}
