package httpapi

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"llamagen/internal/completion"
	"llamagen/internal/manager"
	"llamagen/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Type: kind})
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsDependencyUnavailable(err), manager.IsBudgetExceeded(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	}
	switch completion.KindOf(err) {
	case completion.InvalidParamError:
		return http.StatusBadRequest
	case completion.ModelLoadError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	var kind string
	var ce *completion.Error
	if errors.As(err, &ce) {
		kind = string(ce.Kind)
		writeJSONError(w, status, ce.Msg, kind)
		return status
	}
	writeJSONError(w, status, err.Error(), kind)
	return status
}
