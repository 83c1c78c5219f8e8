// Package session owns one loaded model and its inference context and
// exposes completion, chat, embedding and tokenizer calls over them.
//
// A Session serializes generations: every call that touches the inference
// context holds an exclusive lease for its whole duration.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"llamagen/internal/chat"
	"llamagen/internal/completion"
	"llamagen/internal/runtime"
	"llamagen/internal/sampling"
	"llamagen/pkg/types"
)

// Defaults applied by Open to zero Config fields.
const (
	DefaultNCtx    = 2048
	DefaultNBatch  = 512
	DefaultNUBatch = 512
)

// Config describes how to open a session.
type Config struct {
	ModelPath string
	Backend   runtime.Backend
	Model     runtime.ModelParams
	Context   runtime.ContextParams
	// NPredict is the default prediction budget; <= 0 means until the
	// context fills.
	NPredict int
	Sampling sampling.Config
	Chat     chat.Options
	JobTTL   time.Duration
	Logger   zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Context.NCtx <= 0 {
		c.Context.NCtx = DefaultNCtx
	}
	if c.Context.NBatch <= 0 {
		c.Context.NBatch = DefaultNBatch
	}
	if c.Context.NUBatch <= 0 {
		c.Context.NUBatch = DefaultNUBatch
	}
	if c.Context.Seed == 0 {
		c.Context.Seed = sampling.DefaultSeed
	}
	if c.Sampling.Seed == 0 {
		c.Sampling.Seed = c.Context.Seed
	}
	for i := range c.Context.LoRA {
		if c.Context.LoRA[i].Scale == 0 {
			c.Context.LoRA[i].Scale = 1
		}
	}
}

// Session is a loaded model ready to generate.
type Session struct {
	cfg    Config
	log    zerolog.Logger
	model  runtime.Model
	rctx   runtime.Context
	engine *completion.Engine
	chat   *chat.Adapter
	lease  *contextLease
	jobs   *JobStore
	params runtime.ModelParams
	closed atomic.Bool

	generations atomic.Uint64
}

// Open loads the model, creates its context and picks the chat template.
// Loading with GPU offload falls back to CPU once. Failures are
// ModelLoadError.
func Open(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, completion.Errorf(completion.ModelLoadError, "no runtime backend configured")
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, completion.Errorf(completion.ModelLoadError, "model path is required")
	}
	cfg.applyDefaults()
	log := cfg.Logger.With().Str("model", filepath.Base(cfg.ModelPath)).Logger()

	model, used, err := runtime.LoadWithFallback(cfg.Backend, cfg.ModelPath, cfg.Model)
	if err != nil {
		return nil, completion.Errorf(completion.ModelLoadError, "failed to load model: %v", err)
	}
	if used.GPULayers != cfg.Model.GPULayers {
		log.Warn().Int("requested_gpu_layers", cfg.Model.GPULayers).Msg("gpu load failed, running on cpu")
	}
	rctx, err := model.NewContext(cfg.Context)
	if err != nil {
		_ = model.Close()
		return nil, completion.Errorf(completion.ModelLoadError, "failed to create context: %v", err)
	}

	chatOpts := cfg.Chat
	chatOpts.Logger = log
	s := &Session{
		cfg:    cfg,
		log:    log,
		model:  model,
		rctx:   rctx,
		engine: completion.NewEngine(model, rctx, completion.Defaults{NPredict: cfg.NPredict, Sampling: cfg.Sampling}, log),
		chat:   chat.New(model.ChatTemplate(), chatOpts),
		lease:  newContextLease(),
		jobs:   NewJobStore(cfg.JobTTL),
		params: used,
	}
	log.Info().Int("n_ctx", rctx.NCtx()).Int("n_gpu_layers", used.GPULayers).Str("template", s.chat.TemplateName()).Str("chat_format", s.chat.Format().String()).Msg("session ready")
	return s, nil
}

var errClosed = completion.Errorf(completion.ModelLoadError, "model not initialized")

// hold takes the context lease. The error is a ready-made failure result.
func (s *Session) hold(ctx context.Context) (func(), *completion.Error) {
	if s.closed.Load() {
		return nil, errClosed
	}
	release, err := s.lease.acquire(ctx)
	if err != nil {
		return nil, completion.Errorf(completion.GeneralError, "waiting for inference context: %v", err)
	}
	if s.closed.Load() {
		release()
		return nil, errClosed
	}
	return release, nil
}

// Complete runs a prompt completion and waits for its result.
func (s *Session) Complete(ctx context.Context, req completion.Request) completion.Result {
	return s.run(ctx, req, nil)
}

// Stream starts a prompt completion and returns its event stream.
func (s *Session) Stream(ctx context.Context, req completion.Request) *completion.Stream {
	return completion.Start(ctx, func(ctx context.Context, sink completion.Sink) completion.Result {
		return s.run(ctx, req, sink)
	})
}

func (s *Session) run(ctx context.Context, req completion.Request, sink completion.Sink) completion.Result {
	release, cerr := s.hold(ctx)
	if cerr != nil {
		return completion.Result{Err: cerr, Phase: completion.Failed}
	}
	defer release()
	start := time.Now()
	res := s.engine.Run(ctx, req, sink)
	s.generations.Add(1)
	ev := s.log.Debug()
	if res.Err != nil {
		ev = s.log.Warn().Str("error_kind", string(res.Err.Kind)).Str("error", res.Err.Msg)
	}
	ev.Str("phase", res.Phase.String()).Int("n_prompt", res.PromptTokens).Int("n_predicted", res.PredictedTokens).Dur("took", time.Since(start)).Msg("completion finished")
	return res
}

// Chat renders and runs a chat request and attaches the structured response.
func (s *Session) Chat(ctx context.Context, req types.ChatRequest) completion.Result {
	p, cerr := s.chat.Prepare(req)
	if cerr != nil {
		return completion.Result{Err: cerr, Phase: completion.Failed}
	}
	return s.chat.Finish(p, s.run(ctx, p.Request, nil))
}

// ChatStream is Chat with streaming. Template and parameter errors surface
// as a stream with no events and a failed result.
func (s *Session) ChatStream(ctx context.Context, req types.ChatRequest) *completion.Stream {
	return completion.Start(ctx, func(ctx context.Context, sink completion.Sink) completion.Result {
		p, cerr := s.chat.Prepare(req)
		if cerr != nil {
			return completion.Result{Err: cerr, Phase: completion.Failed}
		}
		return s.chat.Finish(p, s.run(ctx, p.Request, sink))
	})
}

// Submit starts a completion in the background and returns its job.
func (s *Session) Submit(req completion.Request) *Job {
	return s.jobs.Track(s.Stream(context.Background(), req))
}

// SubmitChat starts a chat completion in the background.
func (s *Session) SubmitChat(req types.ChatRequest) *Job {
	return s.jobs.Track(s.ChatStream(context.Background(), req))
}

// Job looks up a submitted job.
func (s *Session) Job(id string) (*Job, bool) { return s.jobs.Get(id) }

// Tokenize converts text to tokens.
func (s *Session) Tokenize(text string, addSpecial bool) ([]runtime.Token, error) {
	if s.closed.Load() {
		return nil, errClosed
	}
	return s.engine.Tokenize(text, addSpecial)
}

// Detokenize converts tokens back to text.
func (s *Session) Detokenize(tokens []runtime.Token) (string, error) {
	if s.closed.Load() {
		return "", errClosed
	}
	return s.engine.Detokenize(tokens), nil
}

// Embed returns the embedding of text.
func (s *Session) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, completion.Errorf(completion.InvalidParamError, "content is empty")
	}
	release, cerr := s.hold(ctx)
	if cerr != nil {
		return nil, cerr
	}
	defer release()
	toks, err := s.model.Tokenize(text, true, false)
	if err != nil {
		return nil, completion.Errorf(completion.InferenceError, "tokenize: %v", err)
	}
	vec, err := s.model.Embed(toks)
	if err != nil {
		return nil, completion.Errorf(completion.InferenceError, "embed: %v", err)
	}
	return vec, nil
}

// Info describes the loaded model.
func (s *Session) Info() types.ModelInfo {
	mi := s.model.Info()
	quant := mi.QuantType
	if quant == "" {
		quant = runtime.QuantFromDescription(mi.Description)
	}
	arch := mi.Architecture
	if arch == "" {
		arch = runtime.ArchFromDescription(mi.Description)
	}
	base := strings.TrimSuffix(filepath.Base(s.cfg.ModelPath), filepath.Ext(s.cfg.ModelPath))
	return types.ModelInfo{
		Model:        types.Model{ID: base, Name: base, Path: s.cfg.ModelPath, Quant: quant, Family: arch},
		NParams:      mi.NParams,
		NVocab:       mi.NVocab,
		NCtxTrain:    mi.NCtxTrain,
		NEmbd:        mi.NEmbd,
		Description:  mi.Description,
		GPUSupported: mi.GPUSupported,
		GPULayers:    s.params.GPULayers,
		ChatFormat:   s.chat.Format().String(),
	}
}

// NCtx is the context window size.
func (s *Session) NCtx() int { return s.rctx.NCtx() }

// Busy reports whether a generation holds the context.
func (s *Session) Busy() bool { return s.lease.busy() }

// Generations counts finished completions.
func (s *Session) Generations() uint64 { return s.generations.Load() }

// Close cancels background jobs, waits for the running generation and
// frees the context and model. Later calls fail with ModelLoadError.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.jobs.Close()
	release, err := s.lease.acquire(context.Background())
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	defer release()
	return errors.Join(s.rctx.Close(), s.model.Close())
}
