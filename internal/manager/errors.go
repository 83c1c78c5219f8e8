package manager

import "errors"

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// modelNotFoundError is returned when a requested model id is not present in the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing runtime dependency so the
// HTTP layer can return 503 Service Unavailable instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// budgetExceededError means a model cannot be loaded without evicting busy sessions.
type budgetExceededError struct {
	modelID  string
	required int
}

func (e budgetExceededError) Error() string { return "vram budget exceeded loading " + e.modelID }

// IsBudgetExceeded reports whether err indicates the VRAM budget cannot fit the model.
func IsBudgetExceeded(err error) bool {
	var e budgetExceededError
	return errors.As(err, &e)
}

var errClosed = ErrDependencyUnavailable("manager is closed")
