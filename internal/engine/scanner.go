package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"parcp/internal/filter"
	"parcp/internal/fsutil"
	"parcp/internal/platform"
)

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	SrcRoot        string
	DstRoot        string
	Workers        int
	ChunkThreshold int64
	Filter         *filter.Chain
	IncludeHidden  bool
	SparseDetect   bool
}

// Scanner traverses a directory tree in parallel and emits FileTask items.
type Scanner struct {
	cfg       ScannerConfig
	tasks     chan FileTask
	errs      chan error
	inodeSeen sync.Map // DevIno -> string (first path seen)
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.Workers <= 0 {
		cfg.Workers = min(runtime.NumCPU(), 8)
	}
	if cfg.Filter == nil {
		cfg.Filter = filter.NewChain()
	}
	return &Scanner{
		cfg:   cfg,
		tasks: make(chan FileTask, cfg.Workers*4),
		errs:  make(chan error, cfg.Workers*4),
	}
}

// Scan starts the scanner and returns channels for tasks and errors.
// The caller must consume from both channels until they close.
func (s *Scanner) Scan(ctx context.Context) (<-chan FileTask, <-chan error) {
	go func() {
		defer close(s.tasks)
		defer close(s.errs)
		s.scanTree(ctx)
	}()

	return s.tasks, s.errs
}

func (s *Scanner) scanTree(ctx context.Context) {
	workQueue := make(chan string, s.cfg.Workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet processed

	var workerWg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dirPath := range workQueue {
				s.scanDir(ctx, dirPath, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	outstanding.Add(1)
	workQueue <- s.cfg.SrcRoot

	// Wait for all directory work to finish, then close the work queue
	// so workers exit their range loop.
	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

func (s *Scanner) scanDir(ctx context.Context, srcPath string, workQueue chan<- string, outstanding *sync.WaitGroup) {
	relPath, err := filepath.Rel(s.cfg.SrcRoot, srcPath)
	if err != nil {
		s.sendErr(fmt.Errorf("rel path for %s: %w", srcPath, err))
		return
	}

	dstPath := filepath.Join(s.cfg.DstRoot, relPath)

	info, err := os.Lstat(srcPath)
	if err != nil {
		s.sendErr(fmt.Errorf("lstat %s: %w", srcPath, err))
		return
	}

	stat := info.Sys().(*syscall.Stat_t)

	// Emit directory task (except root, which the caller creates).
	if srcPath != s.cfg.SrcRoot {
		s.sendTask(ctx, FileTask{
			SrcPath: srcPath,
			DstPath: dstPath,
			Type:    Dir,
			Mode:    uint32(info.Mode()),
			Uid:     stat.Uid,
			Gid:     stat.Gid,
			ModTime: info.ModTime(),
			AccTime: atimeFromStat(stat),
		})
	}

	entries, err := os.ReadDir(srcPath)
	if err != nil {
		s.sendErr(fmt.Errorf("readdir %s: %w", srcPath, err))
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.cfg.IncludeHidden && fsutil.IsHidden(entry.Name()) {
			continue
		}

		entryPath := filepath.Join(srcPath, entry.Name())
		entryDst := filepath.Join(dstPath, entry.Name())

		if err := s.processEntry(ctx, entryPath, entryDst, workQueue, outstanding); err != nil {
			s.sendErr(err)
		}
	}
}

func (s *Scanner) processEntry(ctx context.Context, srcPath, dstPath string, workQueue chan<- string, outstanding *sync.WaitGroup) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("lstat %s: %w", srcPath, err)
	}

	relPath, err := filepath.Rel(s.cfg.SrcRoot, srcPath)
	if err != nil {
		return fmt.Errorf("rel path for %s: %w", srcPath, err)
	}

	stat := info.Sys().(*syscall.Stat_t)
	mode := info.Mode()

	switch fsutil.TypeOf(mode) {
	case fsutil.Dir:
		if !s.cfg.Filter.Match(relPath, true, 0) {
			return nil
		}
		outstanding.Add(1)
		select {
		case workQueue <- srcPath:
		case <-ctx.Done():
			outstanding.Done()
			return ctx.Err()
		}
		return nil

	case fsutil.Symlink:
		if !s.cfg.Filter.Match(relPath, false, 0) {
			return nil
		}
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", srcPath, err)
		}
		s.sendTask(ctx, FileTask{
			SrcPath:    srcPath,
			DstPath:    dstPath,
			Type:       Symlink,
			Mode:       uint32(mode),
			Uid:        stat.Uid,
			Gid:        stat.Gid,
			ModTime:    info.ModTime(),
			AccTime:    atimeFromStat(stat),
			LinkTarget: target,
		})
		return nil

	case fsutil.File:
		if !s.cfg.Filter.Match(relPath, false, info.Size()) {
			return nil
		}

		devino := DevIno{Dev: uint64(stat.Dev), Ino: uint64(stat.Ino)}
		if stat.Nlink > 1 {
			if firstPath, seen := s.inodeSeen.LoadOrStore(devino, srcPath); seen {
				s.sendTask(ctx, FileTask{
					SrcPath:    srcPath,
					DstPath:    dstPath,
					Type:       Hardlink,
					LinkTarget: firstPath.(string),
					DevIno:     devino,
				})
				return nil
			}
		}

		segments, err := s.planSegments(srcPath, info.Size())
		if err != nil {
			return err
		}

		var chunks []Chunk
		if segments == nil && s.cfg.ChunkThreshold > 0 && info.Size() > s.cfg.ChunkThreshold {
			chunks = splitIntoChunks(info.Size(), s.cfg.ChunkThreshold)
		}

		s.sendTask(ctx, FileTask{
			SrcPath:  srcPath,
			DstPath:  dstPath,
			Type:     Regular,
			Size:     info.Size(),
			Mode:     uint32(mode),
			Uid:      stat.Uid,
			Gid:      stat.Gid,
			ModTime:  info.ModTime(),
			AccTime:  atimeFromStat(stat),
			DevIno:   devino,
			Segments: segments,
			Chunks:   chunks,
		})
		return nil

	default:
		// Sockets, devices, fifos: skipped.
		return nil
	}
}

// planSegments maps out the sparse layout of a file that looks sparse.
// Returns nil (copy densely) when the file is dense or the platform or
// filesystem cannot enumerate holes.
func (s *Scanner) planSegments(srcPath string, size int64) ([]platform.Segment, error) {
	if !s.cfg.SparseDetect || size == 0 {
		return nil, nil
	}

	fd, err := os.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open %s for sparse detection: %w", srcPath, err)
	}
	defer fd.Close()

	sparse, err := platform.ProbablySparse(fd)
	if err != nil || !sparse {
		return nil, err
	}

	segments, err := platform.DetectSparseSegments(fd, size)
	if err != nil {
		if errors.Is(err, platform.ErrUnsupported) {
			return nil, nil
		}
		return nil, fmt.Errorf("detect sparse %s: %w", srcPath, err)
	}
	return segments, nil
}

// sendTask blocks until a worker takes the task or the run is cancelled;
// dropping tasks on cancellation is fine since nothing consumes them.
func (s *Scanner) sendTask(ctx context.Context, task FileTask) {
	select {
	case s.tasks <- task:
	case <-ctx.Done():
	}
}

func (s *Scanner) sendErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func splitIntoChunks(fileSize, chunkSize int64) []Chunk {
	var chunks []Chunk
	offset := int64(0)
	for offset < fileSize {
		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}
		chunks = append(chunks, Chunk{Offset: offset, Length: length})
		offset += length
	}
	return chunks
}
