// Package fsutil holds small filesystem predicates shared by the scanner
// and the CLI.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FileType classifies a filesystem entry.
type FileType int

const (
	File FileType = iota
	Dir
	Symlink
	Unknown
)

func (t FileType) String() string {
	switch t {
	case File:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// TypeOf classifies a file mode. Anything that is not a regular file,
// directory, or symlink (sockets, devices, fifos) is Unknown.
func TypeOf(mode fs.FileMode) FileType {
	switch {
	case mode.IsDir():
		return Dir
	case mode.IsRegular():
		return File
	case mode&fs.ModeSymlink != 0:
		return Symlink
	default:
		return Unknown
	}
}

// IsHidden reports whether the entry's basename begins with a dot.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// EmptyPath reports whether path is unset, for rejecting missing arguments
// before any copy work starts.
func EmptyPath(path string) bool {
	return path == ""
}
