package platform

import (
	"errors"
	"fmt"
)

// Copy failure taxonomy. The primitives never return a partial success
// silently: a call either moves the exact requested byte count or fails
// with one of these.
var (
	// ErrSourceExhausted means a read hit EOF before the requested length
	// was reached. The source is shorter than the caller claimed; retrying
	// cannot help.
	ErrSourceExhausted = errors.New("source file ended prematurely")

	// ErrWriteIncomplete means a positioned write accepted fewer bytes than
	// were read. Short positioned writes on regular files indicate an
	// unrecoverable condition such as a full disk, so this is not retried.
	ErrWriteIncomplete = errors.New("destination write incomplete")

	// ErrWriteFailed means a write to the destination returned an error.
	ErrWriteFailed = errors.New("destination write failed")

	// ErrUnsupported is returned by the sparse-file operations on platforms
	// or filesystems without the capability. Callers treat it as "use the
	// plain byte-copy path", never as a fatal error.
	ErrUnsupported = errors.New("operation not supported")
)

// OSError wraps a raw syscall failure with the operation that produced it.
// Unwrap exposes the errno, so errors.Is(err, unix.ENOSPC) works.
type OSError struct {
	Op  string
	Err error
}

func (e *OSError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OSError) Unwrap() error { return e.Err }

// osErr must be constructed right at the failing call site, while err still
// holds that call's errno.
func osErr(op string, err error) error {
	return &OSError{Op: op, Err: err}
}
