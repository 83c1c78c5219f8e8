// Package completion runs the prefill and decode loop for one request and
// decides when generation stops.
package completion

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"llamagen/internal/runtime"
	"llamagen/internal/sampling"
)

// Defaults are the session-level values a request falls back to.
type Defaults struct {
	NPredict int
	Sampling sampling.Config
}

// Engine drives one model context. It does not serialize callers: whoever
// holds an Engine must hold the context exclusively for the whole Run.
type Engine struct {
	model runtime.Model
	rctx  runtime.Context
	def   Defaults
	log   zerolog.Logger
}

// NewEngine binds an engine to a model and its context.
func NewEngine(m runtime.Model, c runtime.Context, def Defaults, log zerolog.Logger) *Engine {
	return &Engine{model: m, rctx: c, def: def, log: log}
}

// Run executes req. Events go to sink when it is non-nil. Failures are
// reported through Result.Err; a failure before the first streamed delta
// produces no events.
func (e *Engine) Run(ctx context.Context, req Request, sink Sink) (res Result) {
	st := newState(0, 0)
	streamed := false
	emit := func(ev Event) bool {
		if sink == nil {
			return true
		}
		streamed = true
		return sink(ev)
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("completion panicked")
			res = failed(Errorf(GeneralError, "%v", r), Failed)
			if streamed {
				func() {
					defer func() { _ = recover() }()
					emit(Event{Done: true, Content: st.Text})
				}()
			}
		}
	}()

	if e == nil || e.model == nil || e.rctx == nil {
		return failed(Errorf(ModelLoadError, "model not initialized"), Failed)
	}
	if req.Prompt == nil {
		return failed(Errorf(InvalidParamError, "no prompt provided"), Failed)
	}
	prompt, err := e.model.Tokenize(*req.Prompt, true, true)
	if err != nil {
		return failed(Errorf(InferenceError, "tokenize prompt: %v", err), Failed)
	}
	if len(prompt) == 0 {
		return failed(Errorf(InvalidParamError, "empty prompt"), Failed)
	}
	nctx := e.rctx.NCtx()
	if len(prompt) >= nctx {
		return failed(Errorf(InvalidParamError, "prompt is too long (%d tokens, context size %d)", len(prompt), nctx), Failed)
	}

	cfg := req.Sampling.Merge(e.def.Sampling)
	if req.HasTools {
		cfg.GrammarLazy = false
	}
	smp, err := sampling.New(e.rctx, cfg)
	if err != nil {
		return failed(Errorf(InferenceError, "%v", err), Failed)
	}
	defer smp.Close()

	npredict := req.NPredict
	if npredict <= 0 {
		npredict = e.def.NPredict
	}
	if npredict <= 0 {
		npredict = nctx
	}
	st = newState(nctx, npredict)

	if err := e.rctx.Clear(); err != nil {
		return failed(Errorf(InferenceError, "clear context: %v", err), Failed)
	}

	st.Phase = Prefilling
	acceptPrompt := cfg.AcceptsPrompt()
	for i, tok := range prompt {
		if err := e.rctx.Decode([]runtime.Token{tok}, i); err != nil {
			return failed(Errorf(InferenceError, "failed to process prompt: %v", err), Failed)
		}
		if acceptPrompt {
			smp.Accept(tok, true)
		}
		st.NPast++
	}
	if err := smp.StartGeneration(); err != nil {
		return failed(Errorf(InferenceError, "%v", err), Failed)
	}
	e.log.Debug().Int("n_prompt", len(prompt)).Int("n_predict", npredict).Int("n_ctx", nctx).Bool("grammar", cfg.HasGrammar()).Bool("lazy", cfg.GrammarLazy).Msg("prefill done")

	st.Phase = Decoding
	eos := e.model.EOS()
	cancelled := false
	for st.HasNextToken && st.NRemaining > 0 {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		tok, err := smp.Sample()
		if err != nil {
			return e.fail(&st, Errorf(InferenceError, "sample: %v", err), emit)
		}
		text := e.model.TokenToText(tok)
		st.push(tok, text)
		smp.Accept(tok, true)

		if err := e.rctx.Decode([]runtime.Token{tok}, st.NPast); err != nil {
			return e.fail(&st, Errorf(InferenceError, "failed to decode generated token: %v", err), emit)
		}
		st.NPast++

		v := Detect(&st, req.Stop, text)
		st.apply(v)
		if v.Action == Continue {
			if delta := completeUTF8(st.unsent()); delta != "" {
				st.NSentText += len(delta)
				if !emit(Event{Delta: delta}) {
					cancelled = true
					break
				}
			}
		}
		if v.Action == Stop {
			break
		}
		if !req.IgnoreEOS && tok == eos {
			st.StoppedEOS = true
			st.HasNextToken = false
			break
		}
	}

	st.finish()
	if cancelled {
		e.log.Debug().Int("n_decoded", st.NDecoded).Msg("completion cancelled by consumer")
	}

	emit(Event{Delta: st.unsent(), Done: true, Content: st.Text})
	st.NSentText = len(st.Text)

	return Result{
		Success:         true,
		Content:         st.Text,
		Tokens:          st.Tokens,
		PromptTokens:    len(prompt),
		PredictedTokens: st.NDecoded,
		Truncated:       st.Truncated,
		StoppedEOS:      st.StoppedEOS,
		StoppedWord:     st.StoppedWord,
		StoppedLimit:    st.StoppedLimit,
		StoppingWord:    st.StoppingWord,
		HasNewLine:      st.HasNewLine,
		Phase:           st.Phase,
	}
}

// fail ends a call that already started decoding. The stream, if any delta
// reached it, still gets its terminal event.
func (e *Engine) fail(st *State, err *Error, emit func(Event) bool) Result {
	st.Phase = Failed
	e.log.Warn().Str("kind", string(err.Kind)).Int("n_decoded", st.NDecoded).Msg(err.Msg)
	if st.NSentText > 0 {
		emit(Event{Done: true, Content: st.Text})
	}
	return Result{Err: err, Phase: Failed, Tokens: st.Tokens, PredictedTokens: st.NDecoded}
}

// completeUTF8 trims a trailing incomplete multi-byte sequence so a token
// boundary inside a rune is never streamed.
func completeUTF8(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(s[i]) {
			continue
		}
		if !utf8.FullRuneInString(s[i:]) {
			return s[:i]
		}
		break
	}
	return s
}

// Tokenize exposes the model tokenizer with special tokens parsed.
func (e *Engine) Tokenize(text string, addSpecial bool) ([]runtime.Token, error) {
	if e == nil || e.model == nil {
		return nil, fmt.Errorf("model not initialized")
	}
	return e.model.Tokenize(text, addSpecial, true)
}

// Detokenize concatenates the text of tokens.
func (e *Engine) Detokenize(tokens []runtime.Token) string {
	var out []byte
	for _, t := range tokens {
		out = append(out, e.model.TokenToText(t)...)
	}
	return string(out)
}
