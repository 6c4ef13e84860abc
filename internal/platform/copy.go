package platform

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// CopyRange copies exactly length bytes from src to dst, starting at the
// same offset in both files. It uses pread/pwrite only, so neither file's
// stream cursor is touched; concurrent calls on the same descriptor pair
// are safe as long as their ranges do not overlap and the destination has
// already been sized to cover them.
//
// On success the returned count equals length. A zero-length request is the
// caller's no-op; length must be > 0.
func CopyRange(src, dst *os.File, length, offset int64) (int64, error) {
	bufp := getBuffer()
	defer putBuffer(bufp)
	buf := *bufp

	srcFd := int(src.Fd())
	dstFd := int(dst.Fd())

	var written int64
	for written < length {
		chunk := length - written
		if chunk > blockSize {
			chunk = blockSize
		}
		pos := offset + written

		n, err := unix.Pread(srcFd, buf[:chunk], pos)
		if err != nil {
			return written, osErr("pread", err)
		}
		if n == 0 {
			return written, fmt.Errorf("pread at %d: %w", pos, ErrSourceExhausted)
		}

		// Short reads are fine; only write back what was actually read.
		w, err := unix.Pwrite(dstFd, buf[:n], pos)
		if err != nil {
			return written, fmt.Errorf("pwrite at %d: %w: %w", pos, ErrWriteFailed, err)
		}
		if w < n {
			return written + int64(w), fmt.Errorf("pwrite at %d: %w", pos, ErrWriteIncomplete)
		}

		written += int64(n)
	}
	return written, nil
}

// CopyBytes copies exactly length bytes from src to dst using the files'
// stream cursors; both advance by length on success. A signal-interrupted
// read is re-issued, since no data was lost. It must not run concurrently
// with anything else touching either cursor.
func CopyBytes(src, dst *os.File, length int64) (int64, error) {
	bufp := getBuffer()
	defer putBuffer(bufp)
	buf := *bufp

	var written int64
	for written < length {
		chunk := length - written
		if chunk > blockSize {
			chunk = blockSize
		}

		n, err := src.Read(buf[:chunk])
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if err == io.EOF {
				return written, ErrSourceExhausted
			}
			return written, osErr("read", err)
		}
		if n == 0 {
			return written, ErrSourceExhausted
		}

		w, err := dst.Write(buf[:n])
		if err != nil {
			if errors.Is(err, io.ErrShortWrite) {
				return written + int64(w), ErrWriteIncomplete
			}
			return written + int64(w), fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}

		written += int64(n)
	}
	return written, nil
}
