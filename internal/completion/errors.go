package completion

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed completion.
type ErrorKind string

const (
	// ModelLoadError means the model or its context is not initialized.
	ModelLoadError ErrorKind = "model_load_error"
	// InvalidParamError covers missing prompts and conflicting constraints.
	InvalidParamError ErrorKind = "invalid_param"
	// InferenceError covers sampler construction and decode failures.
	InferenceError ErrorKind = "inference_error"
	// GeneralError is anything else caught at the call boundary.
	GeneralError ErrorKind = "general_error"
)

// Error is the failure carried by an unsuccessful Result.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err, GeneralError for foreign errors and ""
// for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return GeneralError
}

// IsInvalidParam reports whether err is an InvalidParamError.
func IsInvalidParam(err error) bool { return KindOf(err) == InvalidParamError }

// IsModelLoad reports whether err is a ModelLoadError.
func IsModelLoad(err error) bool { return KindOf(err) == ModelLoadError }
