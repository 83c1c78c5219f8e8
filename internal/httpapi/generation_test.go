package httpapi

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"llamagen/internal/completion"
	"llamagen/pkg/types"
)

func strPtr(s string) *string { return &s }

func TestCompletionJSON(t *testing.T) {
	svc := newFakeService("1", " 2", " 3")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/completion", `{"prompt":"Count:","n_predict":4,"stop":"END","temperature":0.2}`)
	if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body) }
	var res types.CompletionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
	if !res.Success || res.Content != "1 2 3" || !res.StoppedEOS {
		t.Fatalf("result=%+v", res)
	}
	if svc.lastReq.NPredict != 4 || len(svc.lastReq.Stop) != 1 || svc.lastReq.Stop[0] != "END" {
		t.Fatalf("request not mapped: %+v", svc.lastReq)
	}
	if svc.lastReq.Sampling.Temperature != 0.2 {
		t.Fatalf("temperature=%v", svc.lastReq.Sampling.Temperature)
	}
}

func TestCompletionSchemaAndGrammarConflict(t *testing.T) {
	rr := doJSON(t, NewMux(newFakeService("x")), http.MethodPost, "/completion", `{"prompt":"a","grammar":"root ::= \"x\"","json_schema":{"type":"string"}}`)
	if rr.Code != http.StatusBadRequest { t.Fatalf("status=%d", rr.Code) }
	var e types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil { t.Fatalf("decode: %v", err) }
	if e.Type != string(completion.InvalidParamError) {
		t.Fatalf("type=%q", e.Type)
	}
}

func TestCompletionFailureStatus(t *testing.T) {
	svc := newFakeService()
	svc.fail = completion.Errorf(completion.InvalidParamError, "prompt does not fit the context")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/completion", `{"prompt":"long"}`)
	if rr.Code != http.StatusBadRequest { t.Fatalf("status=%d", rr.Code) }
	var res types.CompletionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
	if res.Success || res.ErrorType != "invalid_param" || res.Error == "" {
		t.Fatalf("result=%+v", res)
	}
}

func TestCompletionStreamNDJSON(t *testing.T) {
	svc := newFakeService("1", " 2", " 3")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/completion", `{"prompt":"Count:","stream":true}`)
	if rr.Code != http.StatusOK { t.Fatalf("status=%d", rr.Code) }
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%q", ct)
	}
	var lines []string
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("want 3 events and a summary, got %d lines:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	var got string
	for i, l := range lines[:3] {
		var ev types.StreamEvent
		if err := json.Unmarshal([]byte(l), &ev); err != nil { t.Fatalf("line %d: %v", i, err) }
		got += ev.Delta
		if ev.Done != (i == 2) {
			t.Fatalf("line %d done=%v", i, ev.Done)
		}
		if ev.Done && ev.Content != "1 2 3" {
			t.Fatalf("final content=%q", ev.Content)
		}
	}
	if got != "1 2 3" {
		t.Fatalf("deltas=%q", got)
	}
	var sum types.CompletionResponse
	if err := json.Unmarshal([]byte(lines[3]), &sum); err != nil { t.Fatalf("summary: %v", err) }
	if !sum.Success || sum.PredictedTokens != 3 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestCompletionStreamFailsBeforeOutput(t *testing.T) {
	svc := newFakeService()
	svc.fail = completion.Errorf(completion.InvalidParamError, "empty prompt")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/completion", `{"prompt":"","stream":true}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400 before any streamed output", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}
}

// waitJobState polls GET /jobs/{id} until the job reaches state.
func waitJobState(t *testing.T, h http.Handler, id, state string) types.JobResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := doJSON(t, h, http.MethodGet, "/jobs/"+id, "")
		if rr.Code != http.StatusOK { t.Fatalf("poll status=%d", rr.Code) }
		var j types.JobResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &j); err != nil { t.Fatalf("decode: %v", err) }
		if j.State == state {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %q", id, j.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCompletionAsyncJob(t *testing.T) {
	h := NewMux(newFakeService("a", "b"))
	rr := doJSON(t, h, http.MethodPost, "/completion", `{"prompt":"x","async":true}`)
	if rr.Code != http.StatusAccepted { t.Fatalf("status=%d", rr.Code) }
	var j types.JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &j); err != nil { t.Fatalf("decode: %v", err) }
	if j.ID == "" {
		t.Fatalf("missing job id")
	}
	done := waitJobState(t, h, j.ID, "done")
	if done.Result == nil || done.Result.Content != "ab" {
		t.Fatalf("result=%+v", done.Result)
	}
}

func TestUnknownJob(t *testing.T) {
	h := NewMux(newFakeService())
	if rr := doJSON(t, h, http.MethodGet, "/jobs/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get: status=%d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodDelete, "/jobs/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("delete: status=%d", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	h := NewMux(newFakeService("a", "b", "c"))
	rr := doJSON(t, h, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"async":true}`)
	if rr.Code != http.StatusAccepted { t.Fatalf("status=%d", rr.Code) }
	var j types.JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &j); err != nil { t.Fatalf("decode: %v", err) }
	del := doJSON(t, h, http.MethodDelete, "/jobs/"+j.ID, "")
	if del.Code != http.StatusAccepted { t.Fatalf("cancel status=%d", del.Code) }
	var settled types.JobResponse
	if err := json.Unmarshal(del.Body.Bytes(), &settled); err != nil { t.Fatalf("decode: %v", err) }
	// The fake may finish before the cancel lands.
	if settled.State != "canceled" && settled.State != "done" { t.Fatalf("delete state=%q", settled.State) }

	got := doJSON(t, h, http.MethodGet, "/jobs/"+j.ID, "")
	var after types.JobResponse
	if err := json.Unmarshal(got.Body.Bytes(), &after); err != nil { t.Fatalf("decode: %v", err) }
	if after.State != settled.State { t.Fatalf("state=%q after delete reported %q", after.State, settled.State) }
}

func chatResult(content *string, reason string, calls ...types.ToolCall) *types.ChatCompletionResponse {
	return &types.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  "m1",
		Choices: []types.ChatChoice{{
			Message:      types.ResponseMessage{Role: "assistant", Content: content, ToolCalls: calls},
			FinishReason: reason,
		}},
	}
}

func TestChatJSON(t *testing.T) {
	svc := newFakeService("Hello")
	svc.result.Chat = chatResult(strPtr("Hello"), "stop")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/v1/chat/completions", `{"model":"m1","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK { t.Fatalf("status=%d body=%s", rr.Code, rr.Body) }
	var resp types.ChatCompletionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
	if len(resp.Choices) != 1 || *resp.Choices[0].Message.Content != "Hello" {
		t.Fatalf("resp=%+v", resp)
	}
	if svc.lastChat.Model != "m1" || len(svc.lastChat.Messages) != 1 {
		t.Fatalf("chat request=%+v", svc.lastChat)
	}
}

func TestChatFailureStatus(t *testing.T) {
	svc := newFakeService()
	svc.fail = completion.Errorf(completion.InvalidParamError, "cannot use custom grammar constraints with tools")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	if rr.Code != http.StatusBadRequest { t.Fatalf("status=%d", rr.Code) }
	var e types.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil { t.Fatalf("decode: %v", err) }
	if !strings.Contains(e.Error, "grammar") || e.Type != "invalid_param" {
		t.Fatalf("error=%+v", e)
	}
}

// sseData splits a server-sent event body into its data payloads.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("unexpected block %q", block)
		}
		out = append(out, strings.TrimPrefix(block, "data: "))
	}
	return out
}

func TestChatStreamSSE(t *testing.T) {
	svc := newFakeService("Hel", "lo")
	svc.result.Chat = chatResult(strPtr("Hello"), "stop")
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	if rr.Code != http.StatusOK { t.Fatalf("status=%d", rr.Code) }
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	data := sseData(t, rr.Body.String())
	if data[len(data)-1] != "[DONE]" {
		t.Fatalf("missing [DONE]: %v", data)
	}
	chunks := data[:len(data)-1]
	if len(chunks) != 3 {
		t.Fatalf("want 2 content chunks and a final one, got %v", chunks)
	}
	var text string
	var id string
	for i, raw := range chunks {
		var c types.ChatCompletionChunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil { t.Fatalf("chunk %d: %v", i, err) }
		if c.Object != "chat.completion.chunk" || !strings.HasPrefix(c.ID, "chatcmpl-") {
			t.Fatalf("chunk %d header=%+v", i, c)
		}
		if id == "" {
			id = c.ID
		} else if c.ID != id {
			t.Fatalf("chunk ids differ: %q vs %q", c.ID, id)
		}
		if i == 0 && c.Choices[0].Delta.Role != "assistant" {
			t.Fatalf("first chunk should carry the role")
		}
		text += c.Choices[0].Delta.Content
		last := i == len(chunks)-1
		if fr := c.Choices[0].FinishReason; last != (fr != nil) || (last && *fr != "stop") {
			t.Fatalf("chunk %d finish_reason=%v", i, fr)
		}
	}
	if text != "Hello" {
		t.Fatalf("text=%q", text)
	}
}

func TestChatStreamWithToolsSendsParsedCalls(t *testing.T) {
	svc := newFakeService("<tool_call>", `{"name":"get_weather","arguments":{"city":"Paris"}}`, "</tool_call>")
	call := types.ToolCall{ID: "call_0", Type: "function", Function: types.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`}}
	svc.result.Chat = chatResult(nil, "tool_calls", call)
	body := `{"messages":[{"role":"user","content":"weather?"}],"stream":true,
		"tools":[{"type":"function","function":{"name":"get_weather","parameters":{"type":"object"}}}]}`
	rr := doJSON(t, NewMux(svc), http.MethodPost, "/v1/chat/completions", body)
	if rr.Code != http.StatusOK { t.Fatalf("status=%d", rr.Code) }
	data := sseData(t, rr.Body.String())
	if len(data) != 2 || data[1] != "[DONE]" {
		t.Fatalf("tool replies arrive in one final chunk, got %v", data)
	}
	var c types.ChatCompletionChunk
	if err := json.Unmarshal([]byte(data[0]), &c); err != nil { t.Fatalf("decode: %v", err) }
	d := c.Choices[0].Delta
	if d.Content != "" || len(d.ToolCalls) != 1 || d.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("delta=%+v", d)
	}
	if fr := c.Choices[0].FinishReason; fr == nil || *fr != "tool_calls" {
		t.Fatalf("finish_reason=%v", fr)
	}
}
