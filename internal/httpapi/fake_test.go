package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llamagen/internal/completion"
	"llamagen/internal/manager"
	"llamagen/internal/runtime"
	"llamagen/internal/session"
	"llamagen/pkg/types"
)

// fakeService scripts completions: each generation streams deltas and then
// finishes with result. err fails the call before a stream exists; fail
// ends the stream without any event.
type fakeService struct {
	models []types.Model
	ready  bool
	deltas []string
	result completion.Result
	err    error
	fail   *completion.Error
	jobs   *session.JobStore

	lastReq  completion.Request
	lastChat types.ChatRequest
	lastText string
	loads    []string
}

func newFakeService(deltas ...string) *fakeService {
	return &fakeService{
		models: []types.Model{{ID: "m1", Name: "m1 (Q4_K_M)", Path: "/models/m1.gguf", Quant: "Q4_K_M"}},
		ready:  true,
		deltas: deltas,
		result: completion.Result{Success: true, StoppedEOS: true, PromptTokens: 3},
		jobs:   session.NewJobStore(time.Minute),
	}
}

func (f *fakeService) stream(ctx context.Context) *completion.Stream {
	return completion.Start(ctx, func(ctx context.Context, sink completion.Sink) completion.Result {
		if f.fail != nil {
			return completion.Result{Err: f.fail}
		}
		var full string
		for i, d := range f.deltas {
			full += d
			ev := completion.Event{Delta: d}
			if i == len(f.deltas)-1 {
				ev.Done, ev.Content = true, full
			}
			if !sink(ev) {
				return completion.Result{Err: completion.Errorf(completion.GeneralError, "canceled")}
			}
		}
		res := f.result
		res.Content = full
		res.PredictedTokens = len(f.deltas)
		return res
	})
}

func (f *fakeService) ListModels() []types.Model { return f.models }

func (f *fakeService) Describe(id string) (types.ModelInfo, error) {
	for _, m := range f.models {
		if m.ID == id {
			return types.ModelInfo{Model: m, NVocab: 32000}, nil
		}
	}
	return types.ModelInfo{}, manager.ErrModelNotFound(id)
}

func (f *fakeService) Status() types.StatusResponse {
	return types.StatusResponse{Backend: "fake", State: "ready"}
}

func (f *fakeService) Ready() bool { return f.ready }

func (f *fakeService) Switch(id string) (string, error) {
	for _, m := range f.models {
		if m.ID == id {
			f.loads = append(f.loads, id)
			return fmt.Sprintf("op-%d", len(f.loads)), nil
		}
	}
	return "", manager.ErrModelNotFound(id)
}

func (f *fakeService) Complete(ctx context.Context, _ string, req completion.Request) (completion.Result, error) {
	if f.err != nil {
		return completion.Result{}, f.err
	}
	f.lastReq = req
	st := f.stream(ctx)
	return st.Result(), nil
}

func (f *fakeService) Stream(ctx context.Context, _ string, req completion.Request) (*completion.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastReq = req
	return f.stream(ctx), nil
}

func (f *fakeService) Chat(ctx context.Context, req types.ChatRequest) (completion.Result, error) {
	if f.err != nil {
		return completion.Result{}, f.err
	}
	f.lastChat = req
	return f.stream(ctx).Result(), nil
}

func (f *fakeService) ChatStream(ctx context.Context, req types.ChatRequest) (*completion.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastChat = req
	return f.stream(ctx), nil
}

func (f *fakeService) Submit(_ context.Context, _ string, req completion.Request) (*session.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastReq = req
	return f.jobs.Track(f.stream(context.Background())), nil
}

func (f *fakeService) SubmitChat(_ context.Context, req types.ChatRequest) (*session.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastChat = req
	return f.jobs.Track(f.stream(context.Background())), nil
}

func (f *fakeService) Job(id string) (*session.Job, bool) { return f.jobs.Get(id) }

func (f *fakeService) Tokenize(_ context.Context, _ string, text string, _ bool) ([]runtime.Token, error) {
	f.lastText = text
	out := make([]runtime.Token, 0, len(text))
	for _, r := range text {
		out = append(out, runtime.Token(r))
	}
	return out, nil
}

func (f *fakeService) Detokenize(_ context.Context, _ string, toks []runtime.Token) (string, error) {
	var b strings.Builder
	for _, t := range toks {
		b.WriteRune(rune(t))
	}
	return b.String(), nil
}

func (f *fakeService) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	if text == "" {
		return nil, completion.Errorf(completion.InvalidParamError, "empty content")
	}
	return []float32{0.5, -0.5}, nil
}

// statusError carries its own HTTP status.
type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusError) StatusCode() int { return int(e) }

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
