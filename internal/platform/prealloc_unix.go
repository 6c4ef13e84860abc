//go:build linux || darwin

package platform

import (
	"os"

	"github.com/detailyang/go-fallocate"
)

// AllocateFile reserves length bytes of logical space for f without writing
// zero blocks, so holes copied later stay holes.
func AllocateFile(f *os.File, length int64) error {
	if err := fallocate.Fallocate(f, 0, length); err != nil {
		return osErr("fallocate", err)
	}
	return nil
}

// preallocate attempts to pre-allocate disk space. Errors are ignored as
// allocation is not supported on all filesystems.
func preallocate(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	_ = fallocate.Fallocate(f, 0, size)
}
