//go:build yzma

package runtime

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"llamagen/internal/common/fsutil"
)

var (
	yzmaOnce    sync.Once
	yzmaInitErr error
	yzmaGPU     bool
)

type yzmaBackend struct{}

// NewYzma loads the llama.cpp shared libraries from libPath (once per
// process) and returns a backend bound to them.
func NewYzma(libPath string) (Backend, error) {
	yzmaOnce.Do(func() {
		if libPath == "" {
			libPath = "./lib"
		}
		if p, err := fsutil.ExpandHome(libPath); err == nil {
			libPath = p
		}
		if abs, err := filepath.Abs(libPath); err == nil {
			libPath = abs
		}
		if err := llama.Load(libPath); err != nil {
			yzmaInitErr = fmt.Errorf("load llama.cpp libraries from %s: %w", libPath, err)
			return
		}
		llama.Init()
		yzmaGPU = llama.SupportsGpuOffload()
	})
	if yzmaInitErr != nil {
		return nil, ErrUnavailable(yzmaInitErr.Error())
	}
	return yzmaBackend{}, nil
}

func (yzmaBackend) Name() string { return BackendYzma }

func (yzmaBackend) LoadModel(path string, p ModelParams) (Model, error) {
	mp := llama.ModelDefaultParams()
	mp.NGpuLayers = int32(p.GPULayers)
	if !p.UseMMap {
		mp.UseMmap = 0
	}
	m, err := llama.ModelLoadFromFile(path, mp)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &yzmaModel{model: m, vocab: llama.ModelGetVocab(m), gpuLayers: p.GPULayers}, nil
}

type yzmaModel struct {
	model     llama.Model
	vocab     llama.Vocab
	gpuLayers int
}

func (m *yzmaModel) Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error) {
	toks := llama.Tokenize(m.vocab, text, addSpecial, parseSpecial)
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token(t)
	}
	return out, nil
}

func (m *yzmaModel) TokenToText(tok Token) string {
	buf := make([]byte, 256)
	n := llama.TokenToPiece(m.vocab, llama.Token(tok), buf, 0, true)
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (m *yzmaModel) EOS() Token { return Token(llama.VocabEOS(m.vocab)) }

func (m *yzmaModel) ChatTemplate() string { return llama.ModelChatTemplate(m.model, "") }

func (m *yzmaModel) Info() ModelInfo {
	mi := ModelInfo{
		NParams:      llama.ModelNParams(m.model),
		NVocab:       int(llama.VocabNTokens(m.vocab)),
		NCtxTrain:    int(llama.ModelNCtxTrain(m.model)),
		NEmbd:        int(llama.ModelNEmbd(m.model)),
		Description:  llama.ModelDesc(m.model),
		GPUSupported: yzmaGPU,
		GPULayers:    m.gpuLayers,
	}
	mi.fillDerived()
	return mi
}

func (m *yzmaModel) NewContext(p ContextParams) (Context, error) {
	cp := llama.ContextDefaultParams()
	if p.NCtx > 0 {
		cp.NCtx = uint32(p.NCtx)
	}
	if p.NBatch > 0 {
		cp.NBatch = uint32(p.NBatch)
	}
	if p.NUBatch > 0 {
		cp.NUbatch = uint32(p.NUBatch)
	}
	if p.Threads > 0 {
		cp.NThreads = int32(p.Threads)
		cp.NThreadsBatch = int32(p.Threads)
	}
	lctx, err := llama.InitFromModel(m.model, cp)
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	c := &yzmaContext{m: m, lctx: lctx}
	for _, l := range p.LoRA {
		ad, err := llama.AdapterLoraInit(m.model, l.Path)
		if err != nil {
			llama.Free(lctx)
			return nil, fmt.Errorf("load lora %s: %w", l.Path, err)
		}
		scale := l.Scale
		if scale == 0 {
			scale = 1.0
		}
		llama.SetAdapterLora(lctx, ad, scale)
	}
	return c, nil
}

func (m *yzmaModel) Embed(tokens []Token) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to embed")
	}
	cp := llama.ContextDefaultParams()
	cp.Embeddings = 1
	if n := uint32(len(tokens)); n > cp.NBatch {
		cp.NBatch = n
		cp.NUbatch = n
	}
	lctx, err := llama.InitFromModel(m.model, cp)
	if err != nil {
		return nil, fmt.Errorf("create embedding context: %w", err)
	}
	defer llama.Free(lctx)
	if _, err := llama.Encode(lctx, llama.BatchGetOne(toLlama(tokens))); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	dims := int(llama.ModelNEmbd(m.model))
	emb, err := llama.GetEmbeddings(lctx, 1, dims)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, nil
}

func (m *yzmaModel) Close() error {
	llama.ModelFree(m.model)
	return nil
}

type yzmaContext struct {
	m    *yzmaModel
	lctx llama.Context
}

func (c *yzmaContext) NCtx() int { return int(llama.NCtx(c.lctx)) }

// Decode ignores pos: llama.cpp assigns positions from the KV cache, which
// matches pos as long as callers Clear before each new sequence.
func (c *yzmaContext) Decode(tokens []Token, pos int) error {
	if _, err := llama.Decode(c.lctx, llama.BatchGetOne(toLlama(tokens))); err != nil {
		return fmt.Errorf("decode at %d: %w", pos, err)
	}
	return nil
}

func (c *yzmaContext) Clear() error {
	llama.MemoryClear(llama.GetMemory(c.lctx), true)
	return nil
}

func (c *yzmaContext) NewSampler(p SamplerParams) (Sampler, error) {
	sp := llama.DefaultSamplerParams()
	switch {
	case p.Greedy:
		sp.Temp = 0
	case p.Temperature > 0:
		sp.Temp = p.Temperature
	}
	if p.TopK > 0 {
		sp.TopK = int32(p.TopK)
	}
	if p.TopP > 0 {
		sp.TopP = p.TopP
	}
	if p.MinP > 0 {
		sp.MinP = p.MinP
	}
	if p.RepeatPenalty > 0 {
		sp.PenaltyRepeat = p.RepeatPenalty
	}
	if p.RepeatLastN > 0 {
		sp.PenaltyLastN = int32(p.RepeatLastN)
	}
	sp.Seed = p.Seed

	s := &yzmaSampler{ctx: c}
	s.base = llama.NewSampler(c.m.model, llama.DefaultSamplers, sp)
	s.chain = llama.SamplerChainInit(llama.SamplerChainDefaultParams())
	if p.Grammar != "" {
		var g llama.Sampler
		if p.GrammarLazy {
			g = llama.SamplerInitGrammarLazyPatterns(c.m.vocab, p.Grammar, "root", triggerPatterns(p.TriggerWords), toLlama(p.TriggerTokens))
		} else {
			g = llama.SamplerInitGrammar(c.m.vocab, p.Grammar, "root")
		}
		if g == 0 {
			llama.SamplerFree(s.base)
			llama.SamplerFree(s.chain)
			return nil, errors.New("failed to initialize grammar sampler")
		}
		llama.SamplerChainAdd(s.chain, g)
		s.hasGrammar = true
	}
	llama.SamplerChainAdd(s.chain, s.base)
	return s, nil
}

func (c *yzmaContext) Close() error {
	llama.Free(c.lctx)
	return nil
}

// yzmaSampler chains the grammar (when set) in front of the default
// samplers. base stays addressable so prompt tokens can be recorded without
// advancing the grammar.
type yzmaSampler struct {
	ctx        *yzmaContext
	chain      llama.Sampler
	base       llama.Sampler
	hasGrammar bool

	// llama_sampler_sample already accepts the token it returns.
	last    Token
	pending bool
}

func (s *yzmaSampler) Sample() (Token, error) {
	tok := Token(llama.SamplerSample(s.chain, s.ctx.lctx, -1))
	s.last, s.pending = tok, true
	return tok, nil
}

func (s *yzmaSampler) Accept(tok Token, applyGrammar bool) {
	if s.pending && tok == s.last {
		s.pending = false
		return
	}
	if s.hasGrammar && !applyGrammar {
		llama.SamplerAccept(s.base, llama.Token(tok))
		return
	}
	llama.SamplerAccept(s.chain, llama.Token(tok))
}

// Close frees the chain, which owns the grammar and base samplers.
func (s *yzmaSampler) Close() {
	if s.chain != 0 {
		llama.SamplerFree(s.chain)
		s.chain, s.base = 0, 0
	}
}

func toLlama(tokens []Token) []llama.Token {
	out := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		out[i] = llama.Token(t)
	}
	return out
}

// triggerPatterns turns literal trigger words into the anchored patterns the
// lazy grammar sampler expects.
func triggerPatterns(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, `[\s\S]*?(`+regexp.QuoteMeta(w)+`)[\s\S]*`)
	}
	return out
}
