//go:build !llama

package runtime

// NewGoLlama is unavailable without the 'llama' build tag; this keeps default
// builds and CI CGO-free.
func NewGoLlama() (Backend, error) {
	return nil, ErrUnavailable("llama support not built (missing 'llama' build tag)")
}
