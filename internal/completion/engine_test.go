package completion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"llamagen/internal/runtime"
	"llamagen/internal/runtime/runtimetest"
	"llamagen/internal/sampling"
)

func newEngine(t *testing.T, b *runtimetest.Backend, def Defaults) (*Engine, *runtimetest.Context) {
	t.Helper()
	m, err := b.LoadModel("fake.gguf", runtime.ModelParams{})
	if err != nil { t.Fatalf("load: %v", err) }
	c, err := m.NewContext(runtime.ContextParams{NCtx: 2048})
	if err != nil { t.Fatalf("context: %v", err) }
	return NewEngine(m, c, def, zerolog.Nop()), c.(*runtimetest.Context)
}

type recorder struct {
	events []Event
	stopAt int
}

func (r *recorder) sink(ev Event) bool {
	r.events = append(r.events, ev)
	return r.stopAt == 0 || len(r.events) < r.stopAt
}

func (r *recorder) deltas() string {
	var sb strings.Builder
	for _, ev := range r.events {
		if !ev.Done {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String()
}

func (r *recorder) doneCount() int {
	n := 0
	for _, ev := range r.events {
		if ev.Done {
			n++
		}
	}
	return n
}

func TestRunStopWordTruncates(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"1 ", "2 ", "3 ", "ST", "OP", " 4", " 5"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("Count: "), Stop: []string{"STOP"}, NPredict: 32}, rec.sink)
	if !res.Success { t.Fatalf("unexpected failure: %v", res.Err) }
	if res.Content != "1 2 3 " || res.StoppingWord != "STOP" || !res.StoppedWord {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Phase != StoppedOnWord { t.Fatalf("phase = %v", res.Phase) }
	if got := rec.deltas(); got != "1 2 3 " { t.Fatalf("streamed %q", got) }
	last := rec.events[len(rec.events)-1]
	if !last.Done || last.Content != "1 2 3 " || rec.doneCount() != 1 { t.Fatalf("bad terminal event: %+v", rec.events) }
}

func TestRunWithholdsPartialUntilDivergence(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"a", "ST", "X"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), Stop: []string{"STOP"}, NPredict: 32}, rec.sink)
	if !res.Success || res.Content != "aSTX" || !res.StoppedEOS { t.Fatalf("unexpected result: %+v", res) }
	if len(rec.events) < 3 || rec.events[0].Delta != "a" || rec.events[1].Delta != "STX" {
		t.Fatalf("partial stop word must be withheld: %+v", rec.events)
	}
}

func TestRunNoPromptFailsWithoutEvents(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{Script: []string{"a"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{}, rec.sink)
	if res.Success || res.Err == nil || res.Err.Kind != InvalidParamError || res.Err.Msg != "no prompt provided" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rec.events) != 0 || c.Decodes() != 0 { t.Fatalf("no events or decodes expected") }
}

func TestRunPromptTooLong(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{NCtx: 4}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("abcdef")}, nil)
	if res.Err == nil || res.Err.Kind != InvalidParamError { t.Fatalf("unexpected result: %+v", res) }
	if c.Decodes() != 0 { t.Fatalf("no decode expected") }
}

func TestRunContextExhaustion(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{NCtx: 8, Script: strings.Split("abcdefghij", "")}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("xyz"), NPredict: 100}, nil)
	if !res.Success || !res.Truncated || res.Phase != Truncated { t.Fatalf("unexpected result: %+v", res) }
	if res.PredictedTokens != 5 || res.Content != "abcde" { t.Fatalf("got %d tokens %q", res.PredictedTokens, res.Content) }
}

func TestRunPredictLimit(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: strings.Split("abcdefghij", "")}, Defaults{NPredict: 50})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), NPredict: 3}, nil)
	if !res.Success || !res.StoppedLimit || res.PredictedTokens != 3 || res.Content != "abc" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunDefaultPredictFallback(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: strings.Split("abcdefghij", "")}, Defaults{NPredict: 2})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, nil)
	if res.PredictedTokens != 2 { t.Fatalf("expected session default, got %d", res.PredictedTokens) }
}

func TestRunEOS(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"a", "b"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), NPredict: 10}, nil)
	if !res.StoppedEOS || res.Content != "ab" || len(res.Tokens) != 3 || res.Tokens[2] != runtimetest.EOS {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunIgnoreEOS(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"a"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), NPredict: 5, IgnoreEOS: true}, nil)
	if res.StoppedEOS || !res.StoppedLimit || res.PredictedTokens != 5 || res.Content != "a" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunZeroTokenCompletionStillSignalsDone(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, rec.sink)
	if !res.Success || res.Content != "" { t.Fatalf("unexpected result: %+v", res) }
	if len(rec.events) != 1 || !rec.events[0].Done { t.Fatalf("expected only the terminal event: %+v", rec.events) }
}

func TestRunNonLazyGrammarSkipsPromptAndRebuilds(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{Script: []string{"x"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("abc"), NPredict: 1, Sampling: sampling.Config{Grammar: `root ::= "x"`}}, nil)
	if !res.Success { t.Fatalf("unexpected failure: %v", res.Err) }
	if n := len(c.Samplers()); n != 2 { t.Fatalf("expected sampler rebuild, got %d samplers", n) }
	acc := c.Accepted()
	if len(acc) != 1 || acc[0].Token != res.Tokens[0] { t.Fatalf("prompt tokens must not be accepted: %+v", acc) }
}

func TestRunLazyGrammarAcceptsPrompt(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{Script: []string{"x"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("abc"), NPredict: 1, Sampling: sampling.Config{Grammar: `root ::= "x"`, GrammarLazy: true}}, nil)
	if !res.Success { t.Fatalf("unexpected failure: %v", res.Err) }
	if n := len(c.Samplers()); n != 1 { t.Fatalf("lazy grammar must not rebuild, got %d", n) }
	acc := c.Accepted()
	if len(acc) != 4 || !acc[0].ApplyGrammar { t.Fatalf("expected 3 prompt + 1 generated accepts: %+v", acc) }
}

func TestRunToolsForceStrictGrammar(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{Script: []string{"x"}}, Defaults{})
	req := Request{Prompt: PromptText("abc"), NPredict: 1, HasTools: true, Sampling: sampling.Config{Grammar: `root ::= "x"`, GrammarLazy: true}}
	if res := e.Run(context.Background(), req, nil); !res.Success { t.Fatalf("unexpected failure: %v", res.Err) }
	for _, p := range c.Samplers() {
		if p.GrammarLazy { t.Fatalf("grammar must not be lazy when tools are present") }
	}
}

func TestRunSamplerFailure(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{SamplerErr: errors.New("parse error")}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), Sampling: sampling.Config{Grammar: "bad"}}, nil)
	if res.Err == nil || res.Err.Kind != InferenceError { t.Fatalf("unexpected result: %+v", res) }
	if c.Decodes() != 0 { t.Fatalf("no decode expected") }
}

func TestRunPrefillFailureEmitsNothing(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{DecodeErrAt: 2, Script: []string{"a"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("abc")}, rec.sink)
	if res.Err == nil || res.Err.Kind != InferenceError { t.Fatalf("unexpected result: %+v", res) }
	if len(rec.events) != 0 { t.Fatalf("no events expected: %+v", rec.events) }
}

func TestRunDecodeFailureAfterStreamingEndsStream(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{DecodeErrAt: 4, Script: []string{"x", "y", "z"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("ab"), NPredict: 10}, rec.sink)
	if res.Success || res.Err.Kind != InferenceError { t.Fatalf("unexpected result: %+v", res) }
	if rec.deltas() != "x" || rec.doneCount() != 1 || !rec.events[len(rec.events)-1].Done {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
}

func TestRunSinkCancels(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: strings.Split("abcdefghij", "")}, Defaults{})
	rec := &recorder{stopAt: 1}
	res := e.Run(context.Background(), Request{Prompt: PromptText("p"), NPredict: 10}, rec.sink)
	if !res.Success || res.PredictedTokens != 1 { t.Fatalf("expected stop after first token: %+v", res) }
}

func TestRunContextCancel(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: strings.Split("abcdefghij", "")}, Defaults{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Run(ctx, Request{Prompt: PromptText("p"), NPredict: 10}, nil)
	if !res.Success || res.PredictedTokens != 0 { t.Fatalf("unexpected result: %+v", res) }
}

func TestRunSinkPanicBecomesGeneralError(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"a", "b"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, func(Event) bool { panic("boom") })
	if res.Success || res.Err == nil || res.Err.Kind != GeneralError { t.Fatalf("unexpected result: %+v", res) }
}

func TestRunClearsContextBeforePrefill(t *testing.T) {
	e, c := newEngine(t, &runtimetest.Backend{Script: []string{"a"}}, Defaults{})
	e.Run(context.Background(), Request{Prompt: PromptText("p")}, nil)
	e.Run(context.Background(), Request{Prompt: PromptText("p")}, nil)
	if c.Clears() != 2 { t.Fatalf("expected a clear per run, got %d", c.Clears()) }
}

func TestRunSplitRuneIsNotStreamedEarly(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"\xc3", "\xa9", "!"}}, Defaults{})
	rec := &recorder{}
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, rec.sink)
	if res.Content != "é!" { t.Fatalf("content %q", res.Content) }
	if rec.events[0].Delta != "é" { t.Fatalf("first delta %q", rec.events[0].Delta) }
}

func TestRunRoundTrip(t *testing.T) {
	e, _ := newEngine(t, &runtimetest.Backend{Script: []string{"hé", "llo", " wor", "ld\n"}}, Defaults{})
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, nil)
	if got := e.Detokenize(res.Tokens); got != res.Content { t.Fatalf("detokenize %q != %q", got, res.Content) }
	if !res.HasNewLine { t.Fatalf("expected newline flag") }
}

func TestRunNilEngine(t *testing.T) {
	var e *Engine
	res := e.Run(context.Background(), Request{Prompt: PromptText("p")}, nil)
	if res.Err == nil || res.Err.Kind != ModelLoadError { t.Fatalf("unexpected result: %+v", res) }
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" || KindOf(errors.New("x")) != GeneralError || !IsInvalidParam(Errorf(InvalidParamError, "x")) {
		t.Fatalf("unexpected kinds")
	}
}
