// Package runtimetest provides a scripted in-memory runtime for tests.
//
// Tokenization is one token per rune, so detokenizing any token sequence
// reproduces the original text exactly. Sampling replays Script in order and
// yields EOS once the script is exhausted.
package runtimetest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"llamagen/internal/runtime"
)

// EOS is the fake end-of-sequence token; its text is empty.
const EOS runtime.Token = 0

// Backend is a fake runtime.Backend. Zero values are usable; set fields
// before the first LoadModel.
type Backend struct {
	Script   []string
	NCtx     int
	Template string
	Info     runtime.ModelInfo

	LoadErr     error // returned by every LoadModel
	GPULoadErr  error // returned when GPULayers > 0
	ContextErr  error
	SamplerErr  error
	DecodeErrAt int // 1-based Decode call that fails; 0 disables
	DecodeDelay time.Duration
	Embedding   []float32

	mu     sync.Mutex
	Loads  []runtime.ModelParams
	model  *Model
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) LoadModel(path string, p runtime.ModelParams) (runtime.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Loads = append(b.Loads, p)
	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	if p.GPULayers > 0 && b.GPULoadErr != nil {
		return nil, b.GPULoadErr
	}
	m := &Model{b: b, ids: map[string]runtime.Token{"": EOS}, text: []string{""}}
	b.model = m
	return m, nil
}

// Model returns the last loaded model.
func (b *Backend) Model() *Model {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model
}

// Model is the fake runtime.Model.
type Model struct {
	b *Backend

	mu     sync.Mutex
	ids    map[string]runtime.Token
	text   []string
	ctx    *Context
	closed bool
}

func (m *Model) id(piece string) runtime.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.ids[piece]; ok {
		return id
	}
	id := runtime.Token(len(m.text))
	m.ids[piece] = id
	m.text = append(m.text, piece)
	return id
}

// TokenOf returns the id of piece, assigning one if needed.
func (m *Model) TokenOf(piece string) runtime.Token { return m.id(piece) }

func (m *Model) Tokenize(text string, addSpecial, parseSpecial bool) ([]runtime.Token, error) {
	out := make([]runtime.Token, 0, len(text))
	for _, r := range text {
		out = append(out, m.id(string(r)))
	}
	return out, nil
}

func (m *Model) TokenToText(tok runtime.Token) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok < 0 || int(tok) >= len(m.text) {
		return ""
	}
	return m.text[tok]
}

func (m *Model) EOS() runtime.Token { return EOS }

func (m *Model) ChatTemplate() string { return m.b.Template }

func (m *Model) Info() runtime.ModelInfo { return m.b.Info }

func (m *Model) NewContext(p runtime.ContextParams) (runtime.Context, error) {
	if m.b.ContextErr != nil {
		return nil, m.b.ContextErr
	}
	n := m.b.NCtx
	if n <= 0 {
		n = p.NCtx
	}
	if n <= 0 {
		n = 2048
	}
	c := &Context{m: m, nctx: n, Params: p}
	m.mu.Lock()
	m.ctx = c
	m.mu.Unlock()
	return c, nil
}

// Context returns the last created context.
func (m *Model) Context() *Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

func (m *Model) Embed(tokens []runtime.Token) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to embed")
	}
	if m.b.Embedding != nil {
		return append([]float32(nil), m.b.Embedding...), nil
	}
	return []float32{float32(len(tokens)), 0, 0}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Accepted is one Accept call observed by a fake sampler.
type Accepted struct {
	Token        runtime.Token
	ApplyGrammar bool
}

// Context is the fake runtime.Context. It records every call.
type Context struct {
	m      *Model
	nctx   int
	Params runtime.ContextParams

	mu       sync.Mutex
	cursor   int
	decodes  int
	clears   int
	samplers []runtime.SamplerParams
	closed   int
	accepted []Accepted

	active  atomic.Int32
	overlap atomic.Bool
}

func (c *Context) NCtx() int { return c.nctx }

func (c *Context) Decode(tokens []runtime.Token, pos int) error {
	if c.active.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.active.Add(-1)
	if d := c.m.b.DecodeDelay; d > 0 {
		time.Sleep(d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decodes++
	if c.m.b.DecodeErrAt > 0 && c.decodes == c.m.b.DecodeErrAt {
		return errors.New("fake decode failure")
	}
	return nil
}

// Overlapped reports whether two Decode calls ever ran at the same time.
func (c *Context) Overlapped() bool { return c.overlap.Load() }

func (c *Context) Clear() error {
	c.mu.Lock()
	c.clears++
	c.cursor = 0
	c.mu.Unlock()
	return nil
}

func (c *Context) NewSampler(p runtime.SamplerParams) (runtime.Sampler, error) {
	if c.m.b.SamplerErr != nil {
		return nil, c.m.b.SamplerErr
	}
	c.mu.Lock()
	c.samplers = append(c.samplers, p)
	c.mu.Unlock()
	return &sampler{c: c}, nil
}

func (c *Context) Close() error { return nil }

// Decodes returns the number of Decode calls.
func (c *Context) Decodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decodes
}

// Clears returns the number of Clear calls.
func (c *Context) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

// Samplers returns the params of every sampler built so far.
func (c *Context) Samplers() []runtime.SamplerParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]runtime.SamplerParams(nil), c.samplers...)
}

// SamplersClosed returns how many samplers were closed.
func (c *Context) SamplersClosed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Accepted returns every Accept call in order.
func (c *Context) Accepted() []Accepted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Accepted(nil), c.accepted...)
}

type sampler struct {
	c      *Context
	closed bool
}

func (s *sampler) Sample() (runtime.Token, error) {
	c := s.c
	c.mu.Lock()
	i := c.cursor
	c.cursor++
	c.mu.Unlock()
	if i >= len(c.m.b.Script) {
		return EOS, nil
	}
	return c.m.id(c.m.b.Script[i]), nil
}

func (s *sampler) Accept(tok runtime.Token, applyGrammar bool) {
	s.c.mu.Lock()
	s.c.accepted = append(s.c.accepted, Accepted{Token: tok, ApplyGrammar: applyGrammar})
	s.c.mu.Unlock()
}

func (s *sampler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.c.mu.Lock()
	s.c.closed++
	s.c.mu.Unlock()
}
