package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parcp/internal/engine"
	"parcp/internal/filter"
)

// collectTasks drains a scanner run into a slice, failing the test on any
// scan error.
func collectTasks(t *testing.T, s *engine.Scanner) []engine.FileTask {
	t.Helper()

	tasks, errs := s.Scan(context.Background())

	var collected []engine.FileTask
	done := make(chan struct{})
	go func() {
		defer close(done)
		for err := range errs {
			t.Errorf("scan error: %v", err)
		}
	}()
	for task := range tasks {
		collected = append(collected, task)
	}
	<-done

	return collected
}

func tasksByType(tasks []engine.FileTask, typ engine.TaskType) []engine.FileTask {
	var out []engine.FileTask
	for _, task := range tasks {
		if task.Type == typ {
			out = append(out, task)
		}
	}
	return out
}

func TestScannerEmitsFullTree(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createTestTree(t, src)

	s := engine.NewScanner(engine.ScannerConfig{
		SrcRoot: src,
		DstRoot: dst,
	})
	tasks := collectTasks(t, s)

	require.Len(t, tasksByType(tasks, engine.Dir), 2, "sub and sub/deep")
	require.Len(t, tasksByType(tasks, engine.Regular), 4)
	require.Len(t, tasksByType(tasks, engine.Symlink), 1)

	link := tasksByType(tasks, engine.Symlink)[0]
	require.Equal(t, "root.txt", link.LinkTarget)

	for _, task := range tasks {
		rel, err := filepath.Rel(dst, task.DstPath)
		require.NoError(t, err)
		require.False(t, strings.HasPrefix(rel, ".."), "dst path %s outside dst root", task.DstPath)
	}
}

func TestScannerSkipsHiddenByDefault(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(src, "visible.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".hidden"), []byte("b"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".git", "config"), []byte("c"), 0o644))

	s := engine.NewScanner(engine.ScannerConfig{SrcRoot: src, DstRoot: dst})
	tasks := collectTasks(t, s)

	require.Len(t, tasks, 1)
	require.Equal(t, filepath.Join(src, "visible.txt"), tasks[0].SrcPath)

	s = engine.NewScanner(engine.ScannerConfig{SrcRoot: src, DstRoot: dst, IncludeHidden: true})
	tasks = collectTasks(t, s)

	require.Len(t, tasksByType(tasks, engine.Regular), 3)
	require.Len(t, tasksByType(tasks, engine.Dir), 1)
}

func TestScannerAppliesFilter(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createTestTree(t, src)

	chain := filter.NewChain()
	require.NoError(t, chain.AddExclude("*.bin"))

	s := engine.NewScanner(engine.ScannerConfig{
		SrcRoot: src,
		DstRoot: dst,
		Filter:  chain,
	})
	tasks := collectTasks(t, s)

	for _, task := range tasks {
		require.NotEqual(t, "big.bin", filepath.Base(task.SrcPath))
	}
	require.Len(t, tasksByType(tasks, engine.Regular), 3)
}

func TestScannerDetectsHardlinks(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	first := filepath.Join(src, "a.txt")
	second := filepath.Join(src, "b.txt")
	require.NoError(t, os.WriteFile(first, []byte("shared inode"), 0o644))
	require.NoError(t, os.Link(first, second))

	s := engine.NewScanner(engine.ScannerConfig{SrcRoot: src, DstRoot: dst})
	tasks := collectTasks(t, s)

	regulars := tasksByType(tasks, engine.Regular)
	hardlinks := tasksByType(tasks, engine.Hardlink)
	require.Len(t, regulars, 1)
	require.Len(t, hardlinks, 1)
	require.Equal(t, regulars[0].SrcPath, hardlinks[0].LinkTarget)
}

func TestScannerStopsOnCancel(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	for i := 0; i < 32; i++ {
		name := filepath.Join(src, fmt.Sprintf("f%02d.txt", i))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := engine.NewScanner(engine.ScannerConfig{SrcRoot: src, DstRoot: dst, Workers: 1})
	tasks, errs := s.Scan(ctx)

	// Consume nothing: the task channel fills and the scanner blocks on
	// send until cancellation releases it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		for range errs {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not shut down after cancellation")
	}
	for range tasks {
	}
}

func TestScannerSplitsLargeFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	createTestTree(t, src)

	const threshold = 64 * 1024

	s := engine.NewScanner(engine.ScannerConfig{
		SrcRoot:        src,
		DstRoot:        dst,
		ChunkThreshold: threshold,
	})
	tasks := collectTasks(t, s)

	for _, task := range tasksByType(tasks, engine.Regular) {
		if filepath.Base(task.SrcPath) != "big.bin" {
			require.Empty(t, task.Chunks, "%s under threshold", task.SrcPath)
			continue
		}

		require.Len(t, task.Chunks, 5, "320KB at 64KB chunks")

		var next int64
		var total int64
		for _, c := range task.Chunks {
			require.Equal(t, next, c.Offset, "chunks must be contiguous")
			require.LessOrEqual(t, c.Length, int64(threshold))
			next = c.Offset + c.Length
			total += c.Length
		}
		require.Equal(t, task.Size, total, "chunks must cover the file")
	}
}
