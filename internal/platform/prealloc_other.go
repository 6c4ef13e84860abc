//go:build !linux && !darwin && !windows

package platform

import "os"

// AllocateFile is unavailable on this platform.
func AllocateFile(_ *os.File, _ int64) error {
	return ErrUnsupported
}

func preallocate(_ *os.File, _ int64) {}
