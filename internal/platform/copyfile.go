package platform

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// copyReadWrite copies a range using the user-space pread/pwrite loop.
// This path works on every platform and never touches stream cursors.
func copyReadWrite(params CopyFileParams) (CopyResult, error) {
	srcFd, err := os.Open(params.SrcPath)
	if err != nil {
		return CopyResult{}, err
	}
	defer srcFd.Close()

	length := copyLength(params)
	if length == 0 {
		return CopyResult{Method: ReadWrite}, nil
	}

	n, err := CopyRange(srcFd, params.DstFd, length, params.SrcOffset)
	return CopyResult{BytesWritten: n, Method: ReadWrite}, err
}

// copyLength returns the effective byte count to copy.
func copyLength(params CopyFileParams) int64 {
	if params.Length > 0 {
		return params.Length
	}
	return params.SrcSize - params.SrcOffset
}

// isFallbackErr returns true if err should trigger a fallback to the next
// copy strategy rather than failing the copy.
func isFallbackErr(err error) bool {
	switch {
	case errors.Is(err, unix.ENOSYS),
		errors.Is(err, unix.EXDEV),
		errors.Is(err, unix.EINVAL),
		errors.Is(err, unix.ENOTSUP):
		return true
	}
	return false
}
