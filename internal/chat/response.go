package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"llamagen/internal/completion"
	"llamagen/internal/toolcall"
	"llamagen/pkg/types"
)

// DefaultModelName is reported when a request names no model.
const DefaultModelName = "llamagen"

// NewCompletionID returns an OpenAI-style chat completion id.
func NewCompletionID() string { return "chatcmpl-" + uuid.NewString() }

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func buildResponse(model string, res completion.Result, msg *toolcall.Message, now time.Time) *types.ChatCompletionResponse {
	if model == "" {
		model = DefaultModelName
	}
	choice := types.ChatChoice{
		Index:        0,
		Message:      types.ResponseMessage{Role: "assistant"},
		FinishReason: "stop",
	}
	switch {
	case msg != nil && len(msg.ToolCalls) > 0:
		calls := make([]types.ToolCall, len(msg.ToolCalls))
		for i, c := range msg.ToolCalls {
			if c.ID == "" {
				c.ID = newCallID()
			}
			calls[i] = c
		}
		choice.Message.ToolCalls = calls
		choice.Message.ReasoningContent = msg.ReasoningContent
		if msg.Content != "" {
			choice.Message.Content = &msg.Content
		}
		choice.FinishReason = "tool_calls"
	case msg != nil && msg.Content != "":
		content := msg.Content
		choice.Message.Content = &content
		choice.Message.ReasoningContent = msg.ReasoningContent
	default:
		content := res.Content
		choice.Message.Content = &content
	}
	return &types.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []types.ChatChoice{choice},
		Usage: types.Usage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.PredictedTokens,
			TotalTokens:      res.PromptTokens + res.PredictedTokens,
		},
	}
}
