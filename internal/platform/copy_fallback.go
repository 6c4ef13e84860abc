//go:build !linux && !darwin

package platform

// CopyFile falls back to the user-space loop on platforms without a kernel
// copy primitive.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, copyLength(params))
	return copyReadWrite(params)
}
