package types

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// StopList accepts either a single string or an array of strings.
type StopList []string

func (s *StopList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StopList{one}
		return nil
	}
	var many []any
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("stop must be a string or an array of strings")
	}
	out := make(StopList, 0, len(many))
	for _, v := range many {
		// non-string entries are ignored
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	*s = out
	return nil
}

// SamplingOptions are per-request sampling overrides. Omitted fields fall
// back to the session defaults; an explicit 0 is honored, so
// "temperature": 0 selects greedy decoding.
type SamplingOptions struct {
	// Sampling temperature (higher = more random, 0 = greedy).
	// example: 0.7
	Temperature *float32 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float32 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK *int `json:"top_k,omitempty" example:"40"`
	// Min-P sampling threshold.
	// example: 0.05
	MinP *float32 `json:"min_p,omitempty" example:"0.05"`
	// Repeat penalty.
	// example: 1.1
	RepeatPenalty *float32 `json:"repeat_penalty,omitempty" example:"1.1"`
	// Window for the repeat penalty.
	// example: 64
	RepeatLastN *int `json:"repeat_last_n,omitempty" example:"64"`
	// Random seed for reproducibility; omitted uses the session seed and
	// 4294967295 asks for a random one.
	// example: 42
	Seed *uint32 `json:"seed,omitempty" example:"42"`
}

// CompletionRequest is the raw prompt completion payload.
type CompletionRequest struct {
	// Optional model identifier. If empty, the server default is used.
	// example: qwen2.5-0.5b-instruct-q4_k_m
	Model string `json:"model,omitempty" example:"qwen2.5-0.5b-instruct-q4_k_m"`
	// Prompt text to complete.
	// example: Count: 
	Prompt *string `json:"prompt" example:"Count: "`
	// Stream results as NDJSON events.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate; <= 0 uses the server default.
	// example: 128
	NPredict int `json:"n_predict,omitempty" example:"128"`
	// Stop sequences; a string or an array of strings.
	// example: ["\n\n","END"]
	Stop StopList `json:"stop,omitempty" swaggertype:"array,string" example:"STOP"`
	// Keep generating past the end-of-sequence token.
	IgnoreEOS bool `json:"ignore_eos,omitempty"`
	// GBNF grammar constraining the output.
	Grammar string `json:"grammar,omitempty"`
	// Activate the grammar only after one of GrammarTriggers appears.
	GrammarLazy bool `json:"grammar_lazy,omitempty"`
	// Trigger words for a lazy grammar.
	GrammarTriggers []string `json:"grammar_triggers,omitempty"`
	// JSON schema the output must satisfy; converted to a grammar.
	JSONSchema json.RawMessage `json:"json_schema,omitempty" swaggertype:"object"`
	// Run asynchronously and return a job id.
	Async bool `json:"async,omitempty"`
	SamplingOptions
}

// FunctionDef describes a callable function offered to the model.
type FunctionDef struct {
	// example: get_weather
	Name string `json:"name" example:"get_weather"`
	// example: Get the current weather for a city
	Description string `json:"description,omitempty" example:"Get the current weather for a city"`
	// JSON schema of the arguments object.
	Parameters json.RawMessage `json:"parameters,omitempty" swaggertype:"object"`
}

// Tool is an OpenAI-style tool definition.
type Tool struct {
	// example: function
	Type     string      `json:"type" example:"function"`
	Function FunctionDef `json:"function"`
}

// FunctionCall is the function invoked by a tool call.
type FunctionCall struct {
	// example: get_weather
	Name string `json:"name" example:"get_weather"`
	// JSON-encoded arguments.
	// example: {"city":"Paris"}
	Arguments string `json:"arguments" example:"{\"city\":\"Paris\"}"`
}

// ToolCall is one structured invocation produced by the model.
type ToolCall struct {
	// example: call_0
	ID string `json:"id,omitempty" example:"call_0"`
	// example: function
	Type     string       `json:"type" example:"function"`
	Function FunctionCall `json:"function"`
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	// One of system, user, assistant, tool.
	// example: user
	Role string `json:"role" example:"user"`
	// example: What is the weather in Paris?
	Content string `json:"content" example:"What is the weather in Paris?"`
	// Reasoning text separated from content, when reported.
	ReasoningContent string `json:"reasoning_content,omitempty"`
	// Tool calls issued by an assistant turn.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// Id of the call a tool turn answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Optional author name.
	Name string `json:"name,omitempty"`
}

// ChatRequest is an OpenAI-style chat completion payload.
type ChatRequest struct {
	// example: qwen2.5-0.5b-instruct-q4_k_m
	Model    string        `json:"model,omitempty" example:"qwen2.5-0.5b-instruct-q4_k_m"`
	Messages []ChatMessage `json:"messages"`
	Tools    []Tool        `json:"tools,omitempty"`
	// auto, none or required.
	// example: auto
	ToolChoice string `json:"tool_choice,omitempty" example:"auto"`
	// Advertised default for parallel calls; ignored when tools are present.
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`
	// Template keyword overrides such as enable_thinking.
	ChatTemplateKwargs map[string]string `json:"chat_template_kwargs,omitempty"`
	Stream             bool              `json:"stream,omitempty"`
	// Alias for n_predict.
	MaxTokens       int             `json:"max_tokens,omitempty"`
	NPredict        int             `json:"n_predict,omitempty"`
	Stop            StopList        `json:"stop,omitempty" swaggertype:"array,string"`
	IgnoreEOS       bool            `json:"ignore_eos,omitempty"`
	Grammar         string          `json:"grammar,omitempty"`
	GrammarLazy     bool            `json:"grammar_lazy,omitempty"`
	GrammarTriggers []string        `json:"grammar_triggers,omitempty"`
	JSONSchema      json.RawMessage `json:"json_schema,omitempty" swaggertype:"object"`
	Async           bool            `json:"async,omitempty"`
	SamplingOptions
}

// ResponseMessage is the assistant message of a chat choice. Content is null
// when the model answered with tool calls only.
type ResponseMessage struct {
	// example: assistant
	Role             string     `json:"role" example:"assistant"`
	Content          *string    `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChoice is one entry of ChatCompletionResponse.Choices.
type ChatChoice struct {
	Index   int             `json:"index"`
	Message ResponseMessage `json:"message"`
	// stop or tool_calls.
	// example: stop
	FinishReason string `json:"finish_reason" example:"stop"`
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" example:"12"`
	CompletionTokens int `json:"completion_tokens" example:"34"`
	TotalTokens      int `json:"total_tokens" example:"46"`
}

// ChatCompletionResponse is the OpenAI-style chat completion result.
type ChatCompletionResponse struct {
	// example: chatcmpl-0f9c7a0e-3a59-4b7e-9d6e-0d1f3b7d2f4e
	ID string `json:"id"`
	// example: chat.completion
	Object  string       `json:"object" example:"chat.completion"`
	Created int64        `json:"created" example:"1700000000"`
	Model   string       `json:"model" example:"llamagen"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatDelta is the incremental message of a streamed chunk.
type ChatDelta struct {
	Role             string     `json:"role,omitempty"`
	Content          string     `json:"content,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ChatChunkChoice is one entry of ChatCompletionChunk.Choices.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatCompletionChunk is one server-sent event of a streamed chat completion.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object" example:"chat.completion.chunk"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
}

// CompletionResponse is the result of a raw prompt completion.
type CompletionResponse struct {
	Success bool `json:"success"`
	// example: 1 2 3 
	Content         string  `json:"content" example:"1 2 3 "`
	Tokens          []int32 `json:"tokens,omitempty"`
	PromptTokens    int     `json:"n_prompt_tokens" example:"4"`
	PredictedTokens int     `json:"n_predicted_tokens" example:"7"`
	Truncated       bool    `json:"truncated"`
	StoppedEOS      bool    `json:"stopped_eos"`
	StoppedWord     bool    `json:"stopped_word"`
	StoppedLimit    bool    `json:"stopped_limit"`
	StoppingWord    string  `json:"stopping_word,omitempty"`
	// Present when the completion came from a chat request.
	Chat *ChatCompletionResponse `json:"chat,omitempty"`
	// Set on failure.
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// StreamEvent is one NDJSON line of a streamed raw completion.
type StreamEvent struct {
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done"`
	// Full text, only on the final event.
	Content string `json:"content,omitempty"`
}

// TokenizeRequest is the payload of POST /tokenize.
type TokenizeRequest struct {
	Model   string `json:"model,omitempty"`
	Content string `json:"content" example:"hello world"`
	// Add BOS and other special tokens.
	AddSpecial bool `json:"add_special,omitempty"`
}

// TokenizeResponse is the result of POST /tokenize.
type TokenizeResponse struct {
	Tokens []int32 `json:"tokens"`
}

// DetokenizeRequest is the payload of POST /detokenize.
type DetokenizeRequest struct {
	Model  string  `json:"model,omitempty"`
	Tokens []int32 `json:"tokens"`
}

// DetokenizeResponse is the result of POST /detokenize.
type DetokenizeResponse struct {
	Content string `json:"content"`
}

// EmbeddingRequest is the payload of POST /embedding.
type EmbeddingRequest struct {
	Model   string `json:"model,omitempty"`
	Content string `json:"content" example:"hello world"`
}

// EmbeddingResponse is the result of POST /embedding.
type EmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// LoadResponse acknowledges a background model load.
type LoadResponse struct {
	// example: op-1
	Op    string `json:"op" example:"op-1"`
	Model string `json:"model"`
}

// JobResponse reports the state of an asynchronous completion.
type JobResponse struct {
	// example: 3b1f0c8e-6a0f-4c47-8f3e-5b8d2a7c1e90
	ID string `json:"id"`
	// pending, running, done or canceled.
	// example: running
	State string `json:"state" example:"running"`
	// Text generated so far.
	Partial string              `json:"partial,omitempty"`
	Result  *CompletionResponse `json:"result,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Error kind for engine failures.
	// example: invalid_param
	Type string `json:"type,omitempty" example:"invalid_param"`
}

// InstanceStatus summarizes a loaded session for /status.
type InstanceStatus struct {
	// ID of the model this session serves.
	// example: qwen2.5-0.5b-instruct-q4_k_m
	ModelID string `json:"model_id" example:"qwen2.5-0.5b-instruct-q4_k_m"`
	// Current lifecycle state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last time this session served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Current queue length for incoming requests.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Whether a generation currently holds the context.
	Busy bool `json:"busy"`
	// Maximum queued requests allowed before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Context window of the session.
	// example: 2048
	NCtx int `json:"n_ctx" example:"2048"`
	// Last error observed while loading.
	LastError string `json:"last_error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Loaded sessions.
	Instances []InstanceStatus `json:"instances"`
	// Backend name.
	// example: yzma
	Backend string `json:"backend" example:"yzma"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of finished generations.
	// example: 120
	GenerationsTotal uint64 `json:"generations_total" example:"120"`
	// Overall manager state (idle, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
}
