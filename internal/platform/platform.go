// Package platform is the OS abstraction for moving file bytes. It provides
// exact-length copy primitives over positioned and sequential I/O, sparse
// file probing and segment enumeration, and destination preallocation, with
// per-OS kernel fast paths selected at build time.
package platform

import "os"

// CopyMethod identifies which syscall/strategy was used for a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
	Sendfile                 // Linux sendfile(2)
	Clonefile                // macOS clonefile(2)
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	case Sendfile:
		return "sendfile"
	case Clonefile:
		return "clonefile"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy operation.
type CopyResult struct {
	BytesWritten int64
	Method       CopyMethod
}

// CopyFileParams describes what to copy.
type CopyFileParams struct {
	DstFd     *os.File
	SrcPath   string
	SrcOffset int64
	SrcSize   int64
	Length    int64
}

// Segment describes a contiguous byte range of a file, tagged as data
// (must be copied) or hole (may be skipped). Segments produced by the
// sparse walk are non-overlapping and strictly increasing in offset.
type Segment struct {
	Offset int64
	Length int64
	IsData bool
}
