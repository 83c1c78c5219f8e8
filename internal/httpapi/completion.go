package httpapi

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"llamagen/internal/completion"
	"llamagen/internal/runtime"
	"llamagen/pkg/types"
)

// handleCompletion godoc
// @Summary      Complete a raw prompt
// @Description  Returns the completion as JSON, as NDJSON events when stream is set, or a job when async is set.
// @Tags         generation
// @Accept       json
// @Produce      json,application/x-ndjson
// @Param        request  body      types.CompletionRequest  true  "completion request"
// @Success      200      {object}  types.CompletionResponse
// @Success      202      {object}  types.JobResponse
// @Failure      400      {object}  types.CompletionResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /completion [post]
func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	creq, cerr := completion.FromWire(req)
	if cerr != nil {
		writeError(w, cerr)
		return
	}
	rl := newRequestLog(r, req.Model)

	if req.Async {
		job, err := s.svc.Submit(r.Context(), req.Model, creq)
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
		res, err := s.svc.Complete(ctx, req.Model, creq)
		if err != nil {
			rl.end(writeError(w, err), err)
			return
		}
		rl.end(writeResult(w, res), resultErr(res))
		return
	}

	st, err := s.svc.Stream(ctx, req.Model, creq)
	if err != nil {
		rl.end(writeError(w, err), err)
		return
	}
	defer st.Close()
	var out io.Writer = w
	if rl.debug() {
		out = io.MultiWriter(w, &loggingLineWriter{rid: rl.rid})
	}
	enc := json.NewEncoder(out)
	res, started := pump(w, st, "application/x-ndjson", func(ev completion.Event) error {
		streamedEventsTotal.WithLabelValues("ndjson").Inc()
		return enc.Encode(types.StreamEvent{Delta: ev.Delta, Done: ev.Done, Content: ev.Content})
	})
	if !started {
		rl.end(writeResult(w, res), resultErr(res))
		return
	}
	// Summary line with stop reason and token counts.
	_ = enc.Encode(res.Response())
	rl.end(http.StatusOK, resultErr(res))
}

func resultErr(res completion.Result) error {
	if res.Err == nil {
		return nil
	}
	return res.Err
}

// handleTokenize godoc
// @Summary      Tokenize text
// @Tags         tokenizer
// @Accept       json
// @Produce      json
// @Param        request  body      types.TokenizeRequest  true  "text"
// @Success      200      {object}  types.TokenizeResponse
// @Router       /tokenize [post]
func (s *server) handleTokenize(w http.ResponseWriter, r *http.Request) {
	var req types.TokenizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	toks, err := s.svc.Tokenize(r.Context(), req.Model, req.Content, req.AddSpecial)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]int32, len(toks))
	for i, t := range toks {
		out[i] = int32(t)
	}
	writeJSON(w, http.StatusOK, types.TokenizeResponse{Tokens: out})
}

// handleDetokenize godoc
// @Summary      Detokenize tokens
// @Tags         tokenizer
// @Accept       json
// @Produce      json
// @Param        request  body      types.DetokenizeRequest  true  "tokens"
// @Success      200      {object}  types.DetokenizeResponse
// @Router       /detokenize [post]
func (s *server) handleDetokenize(w http.ResponseWriter, r *http.Request) {
	var req types.DetokenizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	toks := make([]runtime.Token, len(req.Tokens))
	for i, t := range req.Tokens {
		toks[i] = runtime.Token(t)
	}
	text, err := s.svc.Detokenize(r.Context(), req.Model, toks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DetokenizeResponse{Content: text})
}

// handleEmbedding godoc
// @Summary      Embed text
// @Tags         embeddings
// @Accept       json
// @Produce      json
// @Param        request  body      types.EmbeddingRequest  true  "text"
// @Success      200      {object}  types.EmbeddingResponse
// @Failure      400      {object}  types.ErrorResponse
// @Router       /embedding [post]
func (s *server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	var req types.EmbeddingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx, cancel := generationContext(r)
	defer cancel()
	vec, err := s.svc.Embed(ctx, req.Model, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.EmbeddingResponse{Embedding: vec})
}
