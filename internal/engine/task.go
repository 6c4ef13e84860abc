package engine

import (
	"time"

	"parcp/internal/platform"
)

// TaskType identifies the kind of work a FileTask describes.
type TaskType int

const (
	Regular TaskType = iota
	Dir
	Symlink
	Hardlink
)

// DevIno uniquely identifies an inode for hardlink detection.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// Chunk is a byte range of a large file handed to one range-copy call.
// Chunks of a task are pairwise disjoint, so workers may copy them
// concurrently against the same destination descriptor.
type Chunk struct {
	Offset int64
	Length int64
}

// FileTask describes a single copy operation.
type FileTask struct {
	SrcPath    string
	DstPath    string
	LinkTarget string // symlink target, or first-seen path for hardlinks
	ModTime    time.Time
	AccTime    time.Time
	Segments   []platform.Segment // sparse layout, nil for dense files
	Chunks     []Chunk            // large-file split, nil otherwise
	DevIno     DevIno
	Size       int64
	Mode       uint32
	Uid        uint32
	Gid        uint32
	Type       TaskType
}
