package httpapi

import (
	"net/http"
	"strings"
	"time"

	"llamagen/internal/chat"
	"llamagen/internal/completion"
	"llamagen/pkg/types"
)

// handleChat godoc
// @Summary      Chat completion
// @Description  OpenAI-compatible chat completion. Streams server-sent events when stream is set.
// @Tags         generation
// @Accept       json
// @Produce      json,text/event-stream
// @Param        request  body      types.ChatRequest  true  "chat request"
// @Success      200      {object}  types.ChatCompletionResponse
// @Success      202      {object}  types.JobResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rl := newRequestLog(r, req.Model)

	if req.Async {
		job, err := s.svc.SubmitChat(r.Context(), req)
		if err != nil {
			rl.end(writeError(w, err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, job.Snapshot())
		rl.end(http.StatusAccepted, nil)
		return
	}

	ctx, cancel := generationContext(r)
	defer cancel()
	if !req.Stream {
		res, err := s.svc.Chat(ctx, req)
		if err != nil {
			rl.end(writeError(w, err), err)
			return
		}
		if res.Err != nil {
			rl.end(writeError(w, res.Err), res.Err)
			return
		}
		writeJSON(w, http.StatusOK, res.Chat)
		rl.end(http.StatusOK, nil)
		return
	}

	st, err := s.svc.ChatStream(ctx, req)
	if err != nil {
		rl.end(writeError(w, err), err)
		return
	}
	defer st.Close()

	chunk := types.ChatCompletionChunk{
		ID:      chat.NewCompletionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   req.Model,
	}
	if chunk.Model == "" {
		chunk.Model = chat.DefaultModelName
	}
	// Tool-call markup is only meaningful once parsed, so those replies
	// arrive in the final chunk.
	buffered := len(req.Tools) > 0 && !strings.EqualFold(strings.TrimSpace(req.ToolChoice), "none")
	role := "assistant"
	res, started := pump(w, st, "text/event-stream", func(ev completion.Event) error {
		if buffered || ev.Delta == "" {
			return nil
		}
		chunk.Choices = []types.ChatChunkChoice{{Delta: types.ChatDelta{Role: role, Content: ev.Delta}}}
		role = ""
		return writeSSE(w, chunk)
	})
	if !started {
		if res.Err != nil {
			rl.end(writeError(w, res.Err), res.Err)
			return
		}
		writeJSON(w, http.StatusOK, res.Chat)
		rl.end(http.StatusOK, nil)
		return
	}
	if res.Err != nil {
		_ = writeSSE(w, types.ErrorResponse{Error: res.Err.Msg, Code: statusFor(res.Err), Type: string(res.Err.Kind)})
		writeSSEDone(w)
		rl.end(http.StatusOK, res.Err)
		return
	}
	final := types.ChatChunkChoice{}
	if res.Chat != nil && len(res.Chat.Choices) > 0 {
		c := res.Chat.Choices[0]
		reason := c.FinishReason
		final.FinishReason = &reason
		final.Delta.Role = role
		if buffered {
			if c.Message.Content != nil {
				final.Delta.Content = *c.Message.Content
			}
			final.Delta.ReasoningContent = c.Message.ReasoningContent
			final.Delta.ToolCalls = c.Message.ToolCalls
		}
	}
	chunk.Choices = []types.ChatChunkChoice{final}
	_ = writeSSE(w, chunk)
	writeSSEDone(w)
	rl.end(http.StatusOK, nil)
}
