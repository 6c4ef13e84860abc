//go:build !darwin

package platform

// CloneFile is the darwin copy-on-write fast path. Other platforms report
// ErrUnsupported and callers take a copy path.
func CloneFile(srcPath, dstPath string) error {
	return ErrUnsupported
}
