//go:build darwin

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// CopyFile copies a byte range on macOS with the user-space loop and
// advisory preallocation. Whole-file copy-on-write clones go through
// CloneFile instead, which must run before the destination exists.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, copyLength(params))
	return copyReadWrite(params)
}

// CloneFile clones srcPath to dstPath sharing blocks copy-on-write; holes
// in the source stay holes. dstPath must not exist yet. ErrUnsupported
// means the filesystem cannot clone and the caller should copy instead.
func CloneFile(srcPath, dstPath string) error {
	if err := unix.Clonefile(srcPath, dstPath, 0); err != nil {
		if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EXDEV) || errors.Is(err, unix.EEXIST) {
			return ErrUnsupported
		}
		return osErr("clonefile", err)
	}
	return nil
}
