//go:build windows

package platform

import "os"

// AllocateFile extends f to length bytes. fallocate on Windows writes real
// zero bytes to disk; ftruncate extends the valid length without them.
func AllocateFile(f *os.File, length int64) error {
	if err := f.Truncate(length); err != nil {
		return osErr("truncate", err)
	}
	return nil
}

func preallocate(f *os.File, size int64) {
	if size <= 0 {
		return
	}
	_ = f.Truncate(size)
}
