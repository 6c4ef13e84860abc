package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"parcp/internal/filter"
	"parcp/internal/platform"
	"parcp/internal/stats"
)

// Config describes a copy operation.
type Config struct {
	Src            string
	Dst            string
	Recursive      bool
	Archive        bool
	Workers        int
	ScanWorkers    int
	ChunkThreshold int64
	Filter         *filter.Chain
	IncludeHidden  bool
	NoClobber      bool
	SparseDetect   bool
	DryRun         bool
	Verify         bool
}

// Result is the outcome of a copy operation.
type Result struct {
	Stats stats.Snapshot
	Err   error
}

// Run executes a copy operation, blocking until complete.
func Run(ctx context.Context, cfg Config) Result {
	srcInfo, err := os.Lstat(cfg.Src)
	if err != nil {
		return Result{Err: fmt.Errorf("source: %w", err)}
	}

	// A symlink given as the operand is followed, like cp: the task must
	// carry the target's size and mode, not the link's.
	if srcInfo.Mode()&os.ModeSymlink != 0 {
		srcInfo, err = os.Stat(cfg.Src)
		if err != nil {
			return Result{Err: fmt.Errorf("source: %w", err)}
		}
	}

	// Archive implies recursive.
	recursive := cfg.Recursive || cfg.Archive

	if srcInfo.IsDir() && !recursive {
		return Result{Err: fmt.Errorf("source %s is a directory (use -r or -a)", cfg.Src)}
	}

	collector := stats.NewCollector()

	var result Result
	if srcInfo.IsDir() {
		result = runDirCopy(ctx, cfg, collector)
	} else {
		result = runFileCopy(ctx, cfg, collector, srcInfo)
	}

	if result.Err == nil && cfg.Verify && !cfg.DryRun {
		if err := runVerify(ctx, cfg, collector, srcInfo.IsDir()); err != nil {
			result.Err = err
		}
		result.Stats = collector.Snapshot()
	}
	return result
}

func runDirCopy(ctx context.Context, cfg Config, collector *stats.Collector) Result {
	if err := os.MkdirAll(cfg.Dst, 0o755); err != nil {
		return Result{Err: fmt.Errorf("create destination: %w", err)}
	}

	scanner := NewScanner(ScannerConfig{
		SrcRoot:        cfg.Src,
		DstRoot:        cfg.Dst,
		Workers:        cfg.ScanWorkers,
		ChunkThreshold: cfg.ChunkThreshold,
		Filter:         cfg.Filter,
		IncludeHidden:  cfg.IncludeHidden,
		SparseDetect:   cfg.SparseDetect,
	})
	tasks, scanErrs := scanner.Scan(ctx)

	wp := NewWorkerPool(WorkerConfig{
		NumWorkers:    cfg.Workers,
		PreserveMode:  cfg.Archive,
		PreserveTimes: cfg.Archive,
		PreserveOwner: cfg.Archive,
		NoClobber:     cfg.NoClobber,
		DryRun:        cfg.DryRun,
		Stats:         collector,
	})
	defer wp.Close()

	allErrs := make(chan error, 64)

	// Drain scanner errors while workers run.
	go func() {
		for err := range scanErrs {
			select {
			case allErrs <- err:
			default:
			}
		}
	}()

	wp.Run(ctx, tasks, allErrs)

	close(allErrs)
	var copyErr error
	var errCount int
	for err := range allErrs {
		errCount++
		if copyErr == nil {
			copyErr = err
		}
	}
	if errCount > 1 {
		copyErr = fmt.Errorf("%w (and %d more errors)", copyErr, errCount-1)
	}

	return Result{
		Stats: collector.Snapshot(),
		Err:   copyErr,
	}
}

func runFileCopy(ctx context.Context, cfg Config, collector *stats.Collector, srcInfo os.FileInfo) Result {
	dst := cfg.Dst

	// If dst is an existing directory, copy into it.
	if dstInfo, err := os.Stat(dst); err == nil && dstInfo.IsDir() {
		dst = filepath.Join(dst, filepath.Base(cfg.Src))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{Err: fmt.Errorf("create parent dir: %w", err)}
	}

	wp := NewWorkerPool(WorkerConfig{
		NumWorkers:    1,
		PreserveMode:  cfg.Archive,
		PreserveTimes: cfg.Archive,
		PreserveOwner: cfg.Archive,
		NoClobber:     cfg.NoClobber,
		DryRun:        cfg.DryRun,
		Stats:         collector,
	})
	defer wp.Close()

	task, err := fileInfoToTask(cfg, dst, srcInfo)
	if err != nil {
		return Result{Err: err}
	}

	tasks := make(chan FileTask, 1)
	errs := make(chan error, 1)
	tasks <- task
	close(tasks)

	wp.Run(ctx, tasks, errs)
	close(errs)

	var copyErr error
	for err := range errs {
		copyErr = err
	}

	return Result{
		Stats: collector.Snapshot(),
		Err:   copyErr,
	}
}

func fileInfoToTask(cfg Config, dstPath string, info os.FileInfo) (FileTask, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return FileTask{}, fmt.Errorf("unsupported stat type for %s", cfg.Src)
	}

	task := FileTask{
		SrcPath: cfg.Src,
		DstPath: dstPath,
		Type:    Regular,
		Size:    info.Size(),
		Mode:    uint32(info.Mode()),
		Uid:     stat.Uid,
		Gid:     stat.Gid,
		ModTime: info.ModTime(),
		AccTime: atimeFromStat(stat),
	}

	if cfg.SparseDetect && info.Size() > 0 {
		fd, err := os.Open(cfg.Src)
		if err != nil {
			return task, nil // proceed without sparse detection
		}
		defer fd.Close()

		if sparse, err := platform.ProbablySparse(fd); err == nil && sparse {
			segments, err := platform.DetectSparseSegments(fd, info.Size())
			if err == nil {
				task.Segments = segments
			} else if !errors.Is(err, platform.ErrUnsupported) {
				return FileTask{}, fmt.Errorf("detect sparse %s: %w", cfg.Src, err)
			}
		}
	}

	if task.Segments == nil && cfg.ChunkThreshold > 0 && info.Size() > cfg.ChunkThreshold {
		task.Chunks = splitIntoChunks(info.Size(), cfg.ChunkThreshold)
	}

	return task, nil
}
