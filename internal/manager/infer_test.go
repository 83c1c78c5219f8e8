package manager

import (
	"context"
	"strings"
	"testing"

	"llamagen/internal/completion"
	"llamagen/internal/runtime/runtimetest"
	"llamagen/pkg/types"
)

func TestCompleteAndStatus(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{Script: []string{"he", "llo"}}, 1, 1)
	res, err := m.Complete(testCtx(t), "", completion.Request{Prompt: completion.PromptText("hi")})
	if err != nil || res.Content != "hello" { t.Fatalf("complete: %+v %v", res, err) }
	if st := m.Status(); st.GenerationsTotal != 1 || st.Instances[0].Busy { t.Fatalf("status %+v", st) }
}

func TestStreamHoldsSlotUntilDone(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{Script: []string{"a", "b", "c"}}, 1, 1)
	st, err := m.Stream(testCtx(t), "m1", completion.Request{Prompt: completion.PromptText("p")})
	if err != nil { t.Fatalf("stream: %v", err) }
	var sb strings.Builder
	for ev := range st.All() {
		sb.WriteString(ev.Delta)
	}
	if sb.String() != "abc" { t.Fatalf("got %q", sb.String()) }
	inst, _ := m.ensure(testCtx(t), "m1")
	waitFor(t, func() bool { return len(inst.queueCh) == 0 && m.Status().GenerationsTotal == 1 })
}

func TestChatUsesRequestModel(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{Script: []string{"ok"}}, 2, 1)
	res, err := m.Chat(testCtx(t), types.ChatRequest{Model: "m2", Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil || res.Chat == nil || res.Chat.Model != "m2" { t.Fatalf("chat: %+v %v", res, err) }
	if _, err := m.Chat(testCtx(t), types.ChatRequest{Model: "gpt-4", Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}}); !IsModelNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if m.Status().Instances[0].ModelID != "m2" { t.Fatalf("status %+v", m.Status()) }
}

func TestChatStreamInvalidParams(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{Script: []string{"x"}}, 1, 1)
	st, err := m.ChatStream(testCtx(t), types.ChatRequest{})
	if err != nil { t.Fatalf("stream: %v", err) }
	n := 0
	for range st.All() {
		n++
	}
	res := st.Result()
	if n != 0 || res.Err == nil || res.Err.Kind != completion.InvalidParamError { t.Fatalf("events %d result %+v", n, res) }
}

func TestSubmitAndFindJob(t *testing.T) {
	m, _ := newTestManager(t, &runtimetest.Backend{Script: []string{"x"}}, 1, 1)
	j, err := m.Submit(testCtx(t), "m1", completion.Request{Prompt: completion.PromptText("p")})
	if err != nil { t.Fatalf("submit: %v", err) }
	res, err := j.Wait(testCtx(t))
	if err != nil || res.Content != "x" { t.Fatalf("wait: %+v %v", res, err) }
	got, ok := m.Job(j.ID)
	if !ok || got != j { t.Fatalf("job not found") }
	if _, ok := m.Job("nope"); ok { t.Fatalf("unexpected job") }

	cj, err := m.SubmitChat(testCtx(t), types.ChatRequest{Messages: []types.ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil { t.Fatalf("submit chat: %v", err) }
	cres, err := cj.Wait(testCtx(t))
	if err != nil || cres.Chat == nil { t.Fatalf("chat job: %+v %v", cres, err) }
}

func TestTokenizeEmbedDescribe(t *testing.T) {
	b := &runtimetest.Backend{Info: runtimeInfo()}
	m, _ := newTestManager(t, b, 1, 1)
	info, err := m.Describe("m1")
	if err != nil || info.ID != "m1" || info.NVocab != 0 { t.Fatalf("describe before load: %+v %v", info, err) }
	if len(b.Loads) != 0 { t.Fatalf("describe must not load") }

	toks, err := m.Tokenize(context.Background(), "m1", "abc", false)
	if err != nil || len(toks) != 3 { t.Fatalf("tokenize: %v %v", toks, err) }
	text, err := m.Detokenize(context.Background(), "m1", toks)
	if err != nil || text != "abc" { t.Fatalf("detokenize: %q %v", text, err) }
	vec, err := m.Embed(testCtx(t), "m1", "abc")
	if err != nil || len(vec) == 0 { t.Fatalf("embed: %v %v", vec, err) }

	info, err = m.Describe("")
	if err != nil || info.NVocab != 32000 || info.ID != "m1" { t.Fatalf("describe after load: %+v %v", info, err) }
	if _, err := m.Describe("zzz"); !IsModelNotFound(err) { t.Fatalf("expected not found, got %v", err) }
}
