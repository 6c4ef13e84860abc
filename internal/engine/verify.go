package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"parcp/internal/stats"
)

// VerifyError records a single checksum mismatch.
type VerifyError struct {
	Path    string
	SrcHash string
	DstHash string
}

func (e VerifyError) Error() string {
	return fmt.Sprintf("verify %s: checksum mismatch (src %s, dst %s)", e.Path, e.SrcHash, e.DstHash)
}

// runVerify walks the destination tree and compares BLAKE3 checksums
// against the source for every regular file.
func runVerify(ctx context.Context, cfg Config, collector *stats.Collector, isDir bool) error {
	if !isDir {
		dst := cfg.Dst
		if info, err := os.Stat(dst); err == nil && info.IsDir() {
			dst = filepath.Join(dst, filepath.Base(cfg.Src))
		}
		return verifyOne(cfg.Src, dst, collector)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	type pair struct{ src, dst string }
	pairs := make(chan pair, workers*2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	var failCount int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range pairs {
				if err := verifyOne(p.src, p.dst, collector); err != nil {
					mu.Lock()
					failCount++
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	walkErr := filepath.WalkDir(cfg.Dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(cfg.Dst, path)
		if err != nil {
			return err
		}
		pairs <- pair{src: filepath.Join(cfg.Src, rel), dst: path}
		return nil
	})
	close(pairs)
	wg.Wait()

	if walkErr != nil {
		return fmt.Errorf("verify walk: %w", walkErr)
	}
	if failCount > 1 {
		return fmt.Errorf("%w (and %d more verification failures)", firstErr, failCount-1)
	}
	return firstErr
}

func verifyOne(srcPath, dstPath string, collector *stats.Collector) error {
	srcHash, err := HashFile(srcPath)
	if err != nil {
		collector.AddFilesVerifyFailed(1)
		return err
	}
	dstHash, err := HashFile(dstPath)
	if err != nil {
		collector.AddFilesVerifyFailed(1)
		return err
	}
	if srcHash != dstHash {
		collector.AddFilesVerifyFailed(1)
		return VerifyError{Path: dstPath, SrcHash: srcHash, DstHash: dstHash}
	}
	collector.AddFilesVerified(1)
	return nil
}
