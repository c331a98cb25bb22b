//go:build !darwin && !linux

package filtergraph

import (
	"fmt"
	"runtime"
)

func loadNative() (*ffi, error) {
	return nil, fmt.Errorf("%w: unsupported platform %s", ErrLibraryUnavailable, runtime.GOOS)
}
