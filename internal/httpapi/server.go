// Package httpapi exposes the generation engine over HTTP: raw completions,
// OpenAI-style chat completions, async jobs, tokenizer and embedding calls.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamagen/internal/completion"
	"llamagen/internal/runtime"
	"llamagen/internal/session"
	"llamagen/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *manager.Manager satisfies it.
type Service interface {
	ListModels() []types.Model
	Describe(modelID string) (types.ModelInfo, error)
	Status() types.StatusResponse
	Ready() bool
	Switch(modelID string) (string, error)

	Complete(ctx context.Context, modelID string, req completion.Request) (completion.Result, error)
	Stream(ctx context.Context, modelID string, req completion.Request) (*completion.Stream, error)
	Chat(ctx context.Context, req types.ChatRequest) (completion.Result, error)
	ChatStream(ctx context.Context, req types.ChatRequest) (*completion.Stream, error)
	Submit(ctx context.Context, modelID string, req completion.Request) (*session.Job, error)
	SubmitChat(ctx context.Context, req types.ChatRequest) (*session.Job, error)
	Job(id string) (*session.Job, bool)

	Tokenize(ctx context.Context, modelID, text string, addSpecial bool) ([]runtime.Token, error)
	Detokenize(ctx context.Context, modelID string, tokens []runtime.Token) (string, error)
	Embed(ctx context.Context, modelID, text string) ([]float32, error)
}

type server struct{ svc Service }

func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", s.handleModels)
	r.Get("/models/{id}", s.handleModel)
	r.Post("/models/{id}/load", s.handleLoadModel)
	r.Get("/status", s.handleStatus)

	r.Post("/completion", s.handleCompletion)
	r.Post("/v1/chat/completions", s.handleChat)
	r.Post("/tokenize", s.handleTokenize)
	r.Post("/detokenize", s.handleDetokenize)
	r.Post("/embedding", s.handleEmbedding)
	r.Get("/jobs/{id}", s.handleJob)
	r.Delete("/jobs/{id}", s.handleCancelJob)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// decodeJSON enforces the content type and body limit and decodes into v.
// It writes the error response itself and reports whether decoding worked.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "unreadable body", "")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleModels godoc
// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: s.svc.ListModels()})
}

// handleModel godoc
// @Summary      Describe a model
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      200  {object}  types.ModelInfo
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id} [get]
func (s *server) handleModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Describe(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleLoadModel godoc
// @Summary      Load a model in the background
// @Description  Returns at once; the load outcome shows up in /status.
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "model id"
// @Success      202  {object}  types.LoadResponse
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id}/load [post]
func (s *server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, err := s.svc.Switch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.LoadResponse{Op: op, Model: id})
}

// handleStatus godoc
// @Summary      Server status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}
