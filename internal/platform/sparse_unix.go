//go:build linux || darwin

package platform

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ProbablySparse reports whether f has fewer blocks allocated than its
// logical size implies. st_blocks is always in 512-byte units.
func ProbablySparse(f *os.File) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return false, osErr("fstat", err)
	}
	return st.Blocks*512 < st.Size, nil
}

// NextSparseSegment returns the next data segment at or after pos and the
// position scanning should resume from. Calling it repeatedly, feeding the
// resume position back in, walks every data segment of the file; io.EOF
// signals that no data remains before the end of the file.
//
// Filesystems without SEEK_DATA/SEEK_HOLE support yield ErrUnsupported.
func NextSparseSegment(f *os.File, pos int64) (Segment, int64, error) {
	fd := int(f.Fd())

	dataStart, err := seekData(fd, pos)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENXIO):
			// Only a hole (or EOF) remains past pos.
			return Segment{}, pos, io.EOF
		case errors.Is(err, unix.EINVAL):
			return Segment{}, pos, ErrUnsupported
		}
		return Segment{}, pos, osErr("lseek SEEK_DATA", err)
	}

	holeStart, err := seekHole(fd, dataStart)
	if err != nil {
		// A virtual hole always exists at EOF, so any failure here is a
		// real error rather than an end-of-data condition.
		return Segment{}, pos, osErr("lseek SEEK_HOLE", err)
	}

	seg := Segment{Offset: dataStart, Length: holeStart - dataStart, IsData: true}
	return seg, holeStart, nil
}

// DetectSparseSegments drains the sparse walk into a full data/hole map of
// the file. Returns a single data segment covering the whole file if the
// filesystem doesn't support sparse detection, and nil for an empty file.
func DetectSparseSegments(f *os.File, fileSize int64) ([]Segment, error) {
	if fileSize == 0 {
		return nil, nil
	}

	var segments []Segment
	offset := int64(0)

	for offset < fileSize {
		seg, next, err := NextSparseSegment(f, offset)
		if err != nil {
			switch {
			case err == io.EOF:
				// Rest of file is a hole.
				segments = append(segments, Segment{
					Offset: offset,
					Length: fileSize - offset,
				})
				return segments, nil
			case errors.Is(err, ErrUnsupported):
				return wholeFileSegment(fileSize), nil
			}
			return nil, err
		}

		// Record the hole leading up to this data segment, if any.
		if seg.Offset > offset {
			segments = append(segments, Segment{
				Offset: offset,
				Length: seg.Offset - offset,
			})
		}

		// SEEK_HOLE may report past the logical size on some filesystems.
		if seg.Offset+seg.Length > fileSize {
			seg.Length = fileSize - seg.Offset
			next = fileSize
		}

		segments = append(segments, seg)
		offset = next
	}

	if len(segments) == 0 {
		return wholeFileSegment(fileSize), nil
	}
	return segments, nil
}

func wholeFileSegment(size int64) []Segment {
	return []Segment{{Offset: 0, Length: size, IsData: true}}
}

func seekData(fd int, offset int64) (int64, error) {
	return unix.Seek(fd, offset, unix.SEEK_DATA)
}

func seekHole(fd int, offset int64) (int64, error) {
	return unix.Seek(fd, offset, unix.SEEK_HOLE)
}
