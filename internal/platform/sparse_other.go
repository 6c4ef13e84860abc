//go:build !linux && !darwin

package platform

import "os"

// No sparse file handling on this platform. ProbablySparse reporting false
// and ErrUnsupported from the segment walk steer callers onto the plain
// byte-copy path.

func ProbablySparse(_ *os.File) (bool, error) {
	return false, nil
}

func NextSparseSegment(_ *os.File, pos int64) (Segment, int64, error) {
	return Segment{}, pos, ErrUnsupported
}

func DetectSparseSegments(_ *os.File, _ int64) ([]Segment, error) {
	return nil, ErrUnsupported
}
