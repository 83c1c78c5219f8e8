//go:build llama

package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// goLlamaEOS is the synthetic end-of-sequence id reported when Predict returns.
const goLlamaEOS Token = -1

// pieceBase offsets synthetic piece ids above any real vocabulary id.
const pieceBase Token = 1 << 24

type goLlamaBackend struct{}

// NewGoLlama returns the go-llama.cpp backend. go-llama.cpp has no per-token
// decode API, so generation runs Predict on a goroutine and rendezvous with
// the engine once per token through the token callback. Limitations: the
// model's chat template is not exposed (callers fall back to chatml), lazy
// grammars are applied eagerly, EOS ends Predict even when the caller asked
// to ignore it, and only one context per model is supported.
func NewGoLlama() (Backend, error) { return goLlamaBackend{}, nil }

func (goLlamaBackend) Name() string { return BackendLlama }

func (goLlamaBackend) LoadModel(path string, p ModelParams) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat model: %w", err)
	}
	return &goLlamaModel{
		path:    path,
		params:  p,
		pieces:  newPieceTable(),
		prompts: make(map[string]string),
	}, nil
}

// goLlamaModel defers the native load to NewContext because go-llama.cpp
// binds the context size at load time.
type goLlamaModel struct {
	path   string
	params ModelParams
	pieces *pieceTable

	mu      sync.Mutex
	l       *llama.LLama
	threads int
	prompts map[string]string
}

func (m *goLlamaModel) handle() (*llama.LLama, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.l == nil {
		return nil, errors.New("llama model not initialized: create a context first")
	}
	return m.l, nil
}

func (m *goLlamaModel) Tokenize(text string, addSpecial, parseSpecial bool) ([]Token, error) {
	l, err := m.handle()
	if err != nil {
		return nil, err
	}
	_, ids, err := l.TokenizeString(text)
	if err != nil {
		return nil, err
	}
	out := make([]Token, len(ids))
	for i, id := range ids {
		out[i] = Token(id)
	}
	m.mu.Lock()
	if len(m.prompts) > 16 {
		m.prompts = make(map[string]string)
	}
	m.prompts[tokenKey(out)] = text
	m.mu.Unlock()
	return out, nil
}

// promptText recovers the text a token sequence was tokenized from.
func (m *goLlamaModel) promptText(tokens []Token) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.prompts[tokenKey(tokens)]
	return s, ok
}

// TokenToText only knows pieces produced by Predict; go-llama.cpp has no
// detokenizer for vocabulary ids.
func (m *goLlamaModel) TokenToText(tok Token) string { return m.pieces.text(tok) }

func (m *goLlamaModel) EOS() Token { return goLlamaEOS }

func (m *goLlamaModel) ChatTemplate() string { return "" }

func (m *goLlamaModel) Info() ModelInfo {
	mi := ModelInfo{Description: filepath.Base(m.path), GPULayers: m.params.GPULayers}
	mi.fillDerived()
	return mi
}

func (m *goLlamaModel) NewContext(p ContextParams) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.l != nil {
		return nil, errors.New("go-llama.cpp backend supports a single context per model")
	}
	nctx := p.NCtx
	if nctx <= 0 {
		nctx = 2048
	}
	mo := []llama.ModelOption{
		llama.SetContext(nctx),
		llama.SetGPULayers(m.params.GPULayers),
		llama.SetMMap(m.params.UseMMap),
		llama.EnableEmbeddings,
	}
	if p.NBatch > 0 {
		mo = append(mo, llama.SetNBatch(p.NBatch))
	}
	if len(p.LoRA) > 0 {
		mo = append(mo, llama.SetLoraAdapter(p.LoRA[0].Path))
	}
	l, err := llama.New(m.path, mo...)
	if err != nil {
		return nil, err
	}
	m.l = l
	m.threads = p.Threads
	return &goLlamaContext{m: m, nctx: nctx}, nil
}

func (m *goLlamaModel) Embed(tokens []Token) ([]float32, error) {
	l, err := m.handle()
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(tokens))
	for i, t := range tokens {
		ids[i] = int(t)
	}
	return l.TokenEmbeddings(ids, llama.SetThreads(zn(m.threads, 4)))
}

func (m *goLlamaModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.l != nil {
		m.l.Free()
		m.l = nil
	}
	return nil
}

// predictRun is one Predict call in flight. The token callback hands each
// piece over on pieces and blocks until the engine acks it with Decode.
type predictRun struct {
	pieces  chan string
	ack     chan bool
	stop    chan struct{}
	done    chan struct{}
	err     error
	pending bool
}

type goLlamaContext struct {
	m      *goLlamaModel
	nctx   int
	prompt []Token
	run    *predictRun
}

func (c *goLlamaContext) NCtx() int { return c.nctx }

// Decode buffers prompt tokens until generation starts; afterwards it
// releases the token callback so Predict evaluates the next position.
func (c *goLlamaContext) Decode(tokens []Token, pos int) error {
	r := c.run
	if r == nil {
		c.prompt = append(c.prompt, tokens...)
		return nil
	}
	if r.pending {
		r.pending = false
		select {
		case r.ack <- true:
		case <-r.done:
			if r.err != nil {
				return fmt.Errorf("decode at %d: %w", pos, r.err)
			}
		}
	}
	return nil
}

func (c *goLlamaContext) Clear() error {
	c.stopRun()
	c.prompt = nil
	return nil
}

func (c *goLlamaContext) NewSampler(p SamplerParams) (Sampler, error) {
	return &goLlamaSampler{c: c, p: p}, nil
}

func (c *goLlamaContext) Close() error {
	c.stopRun()
	return c.m.Close()
}

func (c *goLlamaContext) start(p SamplerParams) error {
	text, ok := c.m.promptText(c.prompt)
	if !ok {
		return errors.New("prompt was not tokenized by this model")
	}
	l, err := c.m.handle()
	if err != nil {
		return err
	}
	r := &predictRun{
		pieces: make(chan string),
		ack:    make(chan bool),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.SetTokenCallback(func(tok string) bool {
		select {
		case r.pieces <- tok:
		case <-r.stop:
			return false
		}
		select {
		case ok := <-r.ack:
			return ok
		case <-r.stop:
			return false
		}
	})
	po := mapSamplerParamsToPredictOptions(p, c.m.threads, c.nctx-len(c.prompt))
	go func() {
		defer close(r.done)
		_, r.err = l.Predict(text, po...)
	}()
	c.run = r
	return nil
}

func (c *goLlamaContext) stopRun() {
	if c.run == nil {
		return
	}
	close(c.run.stop)
	<-c.run.done
	c.run = nil
}

type goLlamaSampler struct {
	c *goLlamaContext
	p SamplerParams
}

func (s *goLlamaSampler) Sample() (Token, error) {
	if s.c.run == nil {
		if err := s.c.start(s.p); err != nil {
			return 0, err
		}
	}
	r := s.c.run
	select {
	case piece := <-r.pieces:
		r.pending = true
		return s.c.m.pieces.id(piece), nil
	case <-r.done:
		if r.err != nil {
			return 0, r.err
		}
		return goLlamaEOS, nil
	}
}

// Accept is a no-op: Predict owns its sampler history.
func (s *goLlamaSampler) Accept(Token, bool) {}

func (s *goLlamaSampler) Close() { s.c.stopRun() }

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// mapSamplerParamsToPredictOptions converts sampler params into go-llama.cpp options.
func mapSamplerParamsToPredictOptions(p SamplerParams, threads, maxTokens int) []llama.PredictOption {
	temp := zf(p.Temperature, llama.DefaultOptions.Temperature)
	if p.Greedy {
		temp = 0
	}
	po := []llama.PredictOption{
		llama.SetTokens(max(1, maxTokens)),
		llama.SetThreads(zn(threads, 4)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(temp),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0xFFFFFFFF {
		po = append(po, llama.SetSeed(int(p.Seed)))
	}
	if p.Grammar != "" {
		po = append(po, llama.WithGrammar(p.Grammar))
	}
	return po
}

// pieceTable assigns stable synthetic ids to predicted text pieces.
type pieceTable struct {
	mu   sync.Mutex
	ids  map[string]Token
	list []string
}

func newPieceTable() *pieceTable { return &pieceTable{ids: make(map[string]Token)} }

func (t *pieceTable) id(piece string) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[piece]; ok {
		return id
	}
	id := pieceBase + Token(len(t.list))
	t.ids[piece] = id
	t.list = append(t.list, piece)
	return id
}

func (t *pieceTable) text(tok Token) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := int(tok - pieceBase)
	if tok < pieceBase || i >= len(t.list) {
		return ""
	}
	return t.list[i]
}

func tokenKey(tokens []Token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(t)))
	}
	return b.String()
}
