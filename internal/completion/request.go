package completion

import (
	"llamagen/internal/grammar"
	"llamagen/internal/runtime"
	"llamagen/internal/sampling"
	"llamagen/pkg/types"
)

// Request is one prompt completion.
type Request struct {
	// Prompt is nil when the caller supplied none.
	Prompt    *string
	Stop      []string
	NPredict  int
	IgnoreEOS bool
	Sampling  sampling.Config
	// HasTools marks requests rendered with tool definitions; their
	// grammar is never lazy.
	HasTools bool
}

// FromWire builds a Request from the raw completion payload. A JSON schema
// is compiled to a grammar and may not be combined with an explicit one.
func FromWire(req types.CompletionRequest) (Request, *Error) {
	out := Request{
		Prompt:    req.Prompt,
		Stop:      req.Stop,
		NPredict:  req.NPredict,
		IgnoreEOS: req.IgnoreEOS,
		Sampling: sampling.Config{
			Grammar:     req.Grammar,
			GrammarLazy: req.GrammarLazy,
			Triggers:    req.GrammarTriggers,
		},
	}
	out.Sampling.Apply(req.SamplingOptions)
	if len(req.JSONSchema) == 0 || string(req.JSONSchema) == "null" {
		return out, nil
	}
	if req.Grammar != "" {
		return Request{}, Errorf(InvalidParamError, "cannot use both json_schema and grammar")
	}
	g, err := grammar.FromJSONSchema(req.JSONSchema)
	if err != nil {
		return Request{}, Errorf(InvalidParamError, "%v", err)
	}
	out.Sampling.Grammar = g
	return out, nil
}

// PromptText is a convenience for building a Request prompt.
func PromptText(s string) *string { return &s }

// Result is the outcome of a completion. Run never returns a failure any
// other way.
type Result struct {
	Success         bool
	Content         string
	Tokens          []runtime.Token
	PromptTokens    int
	PredictedTokens int
	Truncated       bool
	StoppedEOS      bool
	StoppedWord     bool
	StoppedLimit    bool
	StoppingWord    string
	HasNewLine      bool
	Phase           Phase
	// Chat is set by the chat adapter.
	Chat *types.ChatCompletionResponse
	Err  *Error
}

func failed(err *Error, phase Phase) Result {
	return Result{Err: err, Phase: phase}
}

// Response converts r to its wire form.
func (r Result) Response() types.CompletionResponse {
	out := types.CompletionResponse{
		Success:         r.Success,
		Content:         r.Content,
		PromptTokens:    r.PromptTokens,
		PredictedTokens: r.PredictedTokens,
		Truncated:       r.Truncated,
		StoppedEOS:      r.StoppedEOS,
		StoppedWord:     r.StoppedWord,
		StoppedLimit:    r.StoppedLimit,
		StoppingWord:    r.StoppingWord,
		Chat:            r.Chat,
	}
	if len(r.Tokens) > 0 {
		out.Tokens = make([]int32, len(r.Tokens))
		for i, t := range r.Tokens {
			out.Tokens[i] = int32(t)
		}
	}
	if r.Err != nil {
		out.Error = r.Err.Msg
		out.ErrorType = string(r.Err.Kind)
	}
	return out
}

// Event is one streamed item. The last event of a stream has Done set and
// carries the full text in Content.
type Event struct {
	Delta   string
	Done    bool
	Content string
}

// Sink receives events in generation order. Returning false cancels the
// completion.
type Sink func(Event) bool
