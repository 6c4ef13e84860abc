package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"parcp/internal/platform"
	"parcp/internal/stats"
)

// WorkerConfig controls worker behavior.
type WorkerConfig struct {
	NumWorkers    int
	PreserveMode  bool
	PreserveTimes bool
	PreserveOwner bool
	NoClobber     bool
	DryRun        bool
	Stats         *stats.Collector
}

// WorkerPool manages a pool of copy workers.
type WorkerPool struct {
	cfg WorkerConfig
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(cfg WorkerConfig) *WorkerPool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	return &WorkerPool{cfg: cfg}
}

// Run starts workers that consume tasks. It blocks until all tasks are
// processed or the context is cancelled. Errors are sent to errs.
func (wp *WorkerPool) Run(ctx context.Context, tasks <-chan FileTask, errs chan<- error) {
	var wg sync.WaitGroup
	for i := 0; i < wp.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if err := wp.processTask(task); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}
	wg.Wait()
}

// Close cleans up any temporary files left by interrupted tasks.
func (wp *WorkerPool) Close() {
	CleanupTmpFiles()
}

func (wp *WorkerPool) processTask(task FileTask) error {
	if wp.cfg.DryRun {
		wp.cfg.Stats.AddFilesScanned(1)
		return nil
	}

	switch task.Type {
	case Dir:
		return wp.createDirectory(task)
	case Symlink:
		return wp.createSymlink(task)
	case Hardlink:
		return wp.createHardlink(task)
	case Regular:
		return wp.copyRegularFile(task)
	default:
		return fmt.Errorf("unknown task type %d for %s", task.Type, task.SrcPath)
	}
}

func (wp *WorkerPool) createDirectory(task FileTask) error {
	err := os.MkdirAll(task.DstPath, os.FileMode(task.Mode).Perm())
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", task.DstPath, err)
	}

	if wp.cfg.PreserveMode || wp.cfg.PreserveTimes || wp.cfg.PreserveOwner {
		if err := wp.setDirMetadata(task); err != nil {
			return err
		}
	}

	wp.cfg.Stats.AddDirsCreated(1)
	return nil
}

func (wp *WorkerPool) createSymlink(task FileTask) error {
	if wp.cfg.NoClobber && destinationExists(task.DstPath) {
		wp.cfg.Stats.AddFilesSkipped(1)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(task.DstPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir for symlink %s: %w", task.DstPath, err)
	}
	_ = os.Remove(task.DstPath)

	if err := os.Symlink(task.LinkTarget, task.DstPath); err != nil {
		return fmt.Errorf("symlink %s -> %s: %w", task.DstPath, task.LinkTarget, err)
	}

	wp.cfg.Stats.AddFilesCopied(1)
	return nil
}

func (wp *WorkerPool) createHardlink(task FileTask) error {
	if wp.cfg.NoClobber && destinationExists(task.DstPath) {
		wp.cfg.Stats.AddFilesSkipped(1)
		return nil
	}

	// task.LinkTarget is the source path of the first copy of this inode;
	// translate it to the corresponding destination path.
	relTarget, err := filepath.Rel(filepath.Dir(task.SrcPath), task.LinkTarget)
	if err != nil {
		return fmt.Errorf("rel hardlink target: %w", err)
	}
	dstTarget := filepath.Join(filepath.Dir(task.DstPath), relTarget)

	if err := os.MkdirAll(filepath.Dir(task.DstPath), 0o755); err != nil {
		return fmt.Errorf("create parent dir for hardlink %s: %w", task.DstPath, err)
	}
	_ = os.Remove(task.DstPath)

	if err := os.Link(dstTarget, task.DstPath); err != nil {
		return fmt.Errorf("hardlink %s -> %s: %w", task.DstPath, dstTarget, err)
	}

	wp.cfg.Stats.AddHardlinksCreated(1)
	return nil
}

func (wp *WorkerPool) copyRegularFile(task FileTask) error {
	wp.cfg.Stats.AddFilesScanned(1)

	if wp.cfg.NoClobber && destinationExists(task.DstPath) {
		wp.cfg.Stats.AddFilesSkipped(1)
		return nil
	}

	dir := filepath.Dir(task.DstPath)
	base := filepath.Base(task.DstPath)
	tmpName := fmt.Sprintf(".%s.%s.parcp-tmp", base, uuid.New().String()[:8])
	tmpPath := filepath.Join(dir, tmpName)

	// Ensure parent directory exists (may race with dir task workers).
	if err := os.MkdirAll(dir, 0o755); err != nil {
		wp.cfg.Stats.AddFilesFailed(1)
		return fmt.Errorf("create parent dir %s: %w", dir, err)
	}

	RegisterTmp(tmpPath)
	defer func() {
		DeregisterTmp(tmpPath)
		_ = os.Remove(tmpPath) // no-op if rename succeeded
	}()

	var tmpFd *os.File
	var totalBytes int64
	if cloned, err := wp.cloneToTmp(task, tmpPath); err != nil {
		wp.cfg.Stats.AddFilesFailed(1)
		return err
	} else if cloned != nil {
		tmpFd = cloned
		if info, err := tmpFd.Stat(); err == nil {
			totalBytes = info.Size()
		}
	} else {
		tmpFd, err = os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, os.FileMode(task.Mode).Perm())
		if err != nil {
			wp.cfg.Stats.AddFilesFailed(1)
			return fmt.Errorf("create tmp %s: %w", tmpPath, err)
		}

		if task.Size > 0 {
			totalBytes, err = wp.copyData(task, tmpFd)
			if err != nil {
				tmpFd.Close()
				wp.cfg.Stats.AddFilesFailed(1)
				return fmt.Errorf("copy data %s: %w", task.SrcPath, err)
			}
		}
	}

	// Set metadata before rename.
	if err := wp.setFileMetadata(task, tmpFd); err != nil {
		tmpFd.Close()
		wp.cfg.Stats.AddFilesFailed(1)
		return fmt.Errorf("set metadata %s: %w", task.DstPath, err)
	}

	if err := tmpFd.Close(); err != nil {
		wp.cfg.Stats.AddFilesFailed(1)
		return fmt.Errorf("close tmp %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, task.DstPath); err != nil {
		wp.cfg.Stats.AddFilesFailed(1)
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, task.DstPath, err)
	}

	wp.cfg.Stats.AddFilesCopied(1)
	wp.cfg.Stats.AddBytesCopied(totalBytes)
	return nil
}

// cloneToTmp attempts a copy-on-write clone of the whole source into the
// tmp path, returning the opened clone. Sparse and chunked tasks keep
// their dedicated copy paths; a nil file with nil error means clone is
// unavailable and the caller should copy.
func (wp *WorkerPool) cloneToTmp(task FileTask, tmpPath string) (*os.File, error) {
	if len(task.Segments) > 0 || len(task.Chunks) > 0 {
		return nil, nil
	}

	if err := platform.CloneFile(task.SrcPath, tmpPath); err != nil {
		if errors.Is(err, platform.ErrUnsupported) {
			return nil, nil
		}
		return nil, fmt.Errorf("clone %s: %w", task.SrcPath, err)
	}

	fd, err := os.OpenFile(tmpPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open cloned tmp %s: %w", tmpPath, err)
	}
	return fd, nil
}

func (wp *WorkerPool) copyData(task FileTask, dstFd *os.File) (int64, error) {
	// Sparse-aware copy: only copy data segments.
	if len(task.Segments) > 0 {
		return wp.copySegments(task, dstFd)
	}

	// Large dense file: copy disjoint chunks concurrently.
	if len(task.Chunks) > 0 {
		return wp.copyChunks(task, dstFd)
	}

	result, err := platform.CopyFile(platform.CopyFileParams{
		SrcPath: task.SrcPath,
		DstFd:   dstFd,
		SrcSize: task.Size,
	})
	if err != nil {
		return result.BytesWritten, err
	}
	// Kernel copy paths report EOF as a short count rather than an error;
	// a source that shrank since the scan must not rename as complete.
	if result.BytesWritten != task.Size {
		return result.BytesWritten, fmt.Errorf("copied %d of %d bytes: %w",
			result.BytesWritten, task.Size, platform.ErrSourceExhausted)
	}
	return result.BytesWritten, nil
}

func (wp *WorkerPool) copySegments(task FileTask, dstFd *os.File) (int64, error) {
	// ftruncate gives the destination the full logical size; skipped holes
	// then stay unallocated.
	if err := dstFd.Truncate(task.Size); err != nil {
		return 0, fmt.Errorf("truncate for sparse: %w", err)
	}

	var total int64
	for _, seg := range task.Segments {
		if !seg.IsData {
			continue
		}
		result, err := platform.CopyFile(platform.CopyFileParams{
			SrcPath:   task.SrcPath,
			DstFd:     dstFd,
			SrcOffset: seg.Offset,
			Length:    seg.Length,
			SrcSize:   task.Size,
		})
		if err != nil {
			return total, err
		}
		if result.BytesWritten != seg.Length {
			return total + result.BytesWritten, fmt.Errorf("segment at %d: copied %d of %d bytes: %w",
				seg.Offset, result.BytesWritten, seg.Length, platform.ErrSourceExhausted)
		}
		total += result.BytesWritten
	}
	return total, nil
}

// copyChunks copies the pairwise-disjoint chunks of a large file in
// parallel. The destination is sized first so every positioned write lands
// within the file.
func (wp *WorkerPool) copyChunks(task FileTask, dstFd *os.File) (int64, error) {
	srcFd, err := os.Open(task.SrcPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", task.SrcPath, err)
	}
	defer srcFd.Close()

	if err := platform.AllocateFile(dstFd, task.Size); err != nil {
		if !errors.Is(err, platform.ErrUnsupported) {
			return 0, fmt.Errorf("allocate: %w", err)
		}
		if err := dstFd.Truncate(task.Size); err != nil {
			return 0, fmt.Errorf("truncate: %w", err)
		}
	}

	var wg sync.WaitGroup
	written := make([]int64, len(task.Chunks))
	errs := make([]error, len(task.Chunks))
	for i, chunk := range task.Chunks {
		wg.Add(1)
		go func(i int, c Chunk) {
			defer wg.Done()
			written[i], errs[i] = platform.CopyRange(srcFd, dstFd, c.Length, c.Offset)
		}(i, chunk)
	}
	wg.Wait()

	var total int64
	for i := range task.Chunks {
		if errs[i] != nil {
			return total, errs[i]
		}
		total += written[i]
	}
	return total, nil
}

func (wp *WorkerPool) setFileMetadata(task FileTask, fd *os.File) error {
	rawFd := int(fd.Fd())

	if wp.cfg.PreserveMode {
		if err := unix.Fchmod(rawFd, task.Mode&0o7777); err != nil {
			return fmt.Errorf("fchmod: %w", err)
		}
	}

	if wp.cfg.PreserveTimes {
		if err := setFileTimes(rawFd, fd.Name(), task.AccTime, task.ModTime); err != nil {
			return err
		}
	}

	// Ownership last; may fail without CAP_CHOWN.
	if wp.cfg.PreserveOwner {
		_ = unix.Fchown(rawFd, int(task.Uid), int(task.Gid))
	}

	return nil
}

func (wp *WorkerPool) setDirMetadata(task FileTask) error {
	if wp.cfg.PreserveMode {
		if err := os.Chmod(task.DstPath, os.FileMode(task.Mode).Perm()); err != nil {
			return fmt.Errorf("chmod dir %s: %w", task.DstPath, err)
		}
	}

	if wp.cfg.PreserveTimes {
		times := []unix.Timespec{
			unix.NsecToTimespec(task.AccTime.UnixNano()),
			unix.NsecToTimespec(task.ModTime.UnixNano()),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, task.DstPath, times, 0); err != nil {
			return fmt.Errorf("utimensat dir %s: %w", task.DstPath, err)
		}
	}

	if wp.cfg.PreserveOwner {
		_ = syscall.Lchown(task.DstPath, int(task.Uid), int(task.Gid))
	}

	return nil
}

func destinationExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
