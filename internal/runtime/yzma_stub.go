//go:build !yzma

package runtime

// NewYzma is unavailable without the 'yzma' build tag.
func NewYzma(libPath string) (Backend, error) {
	return nil, ErrUnavailable("yzma backend not built (missing 'yzma' build tag)")
}
