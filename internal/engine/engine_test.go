package engine_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"parcp/internal/engine"
)

func TestRunDirectoryCopy(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	createTestTree(t, src)

	result := engine.Run(context.Background(), engine.Config{
		Src:       src,
		Dst:       dst,
		Recursive: true,
		Workers:   4,
	})
	require.NoError(t, result.Err)

	verifyTreeCopy(t, src, dst)
	require.Equal(t, int64(5), result.Stats.FilesCopied, "4 regular files + 1 symlink")
	require.Equal(t, int64(2), result.Stats.DirsCreated)
}

func TestRunDirectoryWithoutRecursive(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	result := engine.Run(context.Background(), engine.Config{Src: src, Dst: dst})
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "is a directory")
}

func TestRunMissingSource(t *testing.T) {
	result := engine.Run(context.Background(), engine.Config{
		Src: filepath.Join(t.TempDir(), "nope"),
		Dst: t.TempDir(),
	})
	require.Error(t, result.Err)
}

func TestRunSingleFile(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "one.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("single file"), 0o644))

	dstPath := filepath.Join(t.TempDir(), "copy.txt")
	result := engine.Run(context.Background(), engine.Config{Src: srcPath, Dst: dstPath})
	require.NoError(t, result.Err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, []byte("single file"), got)
	require.Equal(t, int64(1), result.Stats.FilesCopied)
}

func TestRunFollowsSymlinkOperand(t *testing.T) {
	src := t.TempDir()
	target := filepath.Join(src, "real.bin")
	data := bytes.Repeat([]byte("target content! "), 2048) // 32KB, far longer than the link text
	require.NoError(t, os.WriteFile(target, data, 0o644))

	link := filepath.Join(src, "alias")
	require.NoError(t, os.Symlink("real.bin", link))

	dstPath := filepath.Join(t.TempDir(), "out.bin")
	result := engine.Run(context.Background(), engine.Config{Src: link, Dst: dstPath})
	require.NoError(t, result.Err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, data, got, "must copy the full target, not the link text length")
	require.Equal(t, int64(len(data)), result.Stats.BytesCopied)
}

func TestRunDanglingSymlinkOperand(t *testing.T) {
	src := t.TempDir()
	link := filepath.Join(src, "dangling")
	require.NoError(t, os.Symlink("gone", link))

	result := engine.Run(context.Background(), engine.Config{
		Src: link,
		Dst: filepath.Join(t.TempDir(), "out"),
	})
	require.Error(t, result.Err)
}

func TestRunSingleFileIntoDirectory(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "one.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("into dir"), 0o644))

	dst := t.TempDir()
	result := engine.Run(context.Background(), engine.Config{Src: srcPath, Dst: dst})
	require.NoError(t, result.Err)

	got, err := os.ReadFile(filepath.Join(dst, "one.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("into dir"), got)
}

func TestRunArchivePreservesMode(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "script.sh")
	require.NoError(t, os.WriteFile(srcPath, []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(t.TempDir(), "out")
	result := engine.Run(context.Background(), engine.Config{
		Src:     src,
		Dst:     dst,
		Archive: true, // implies recursive
	})
	require.NoError(t, result.Err)

	info, err := os.Stat(filepath.Join(dst, "script.sh"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestRunChunkedLargeFile(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "big.bin")
	data := bytes.Repeat([]byte("0123456789abcdef"), 32*1024) // 512KB
	require.NoError(t, os.WriteFile(srcPath, data, 0o644))

	dstPath := filepath.Join(t.TempDir(), "big.bin")
	result := engine.Run(context.Background(), engine.Config{
		Src:            srcPath,
		Dst:            dstPath,
		ChunkThreshold: 128 * 1024,
	})
	require.NoError(t, result.Err)

	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, int64(len(data)), result.Stats.BytesCopied)
}

func TestRunSparseFile(t *testing.T) {
	src := t.TempDir()
	srcPath := filepath.Join(src, "sparse.bin")
	f, err := os.Create(srcPath)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(1<<20))
	_, err = f.WriteAt(bytes.Repeat([]byte{'S'}, 4096), 1<<20)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dstPath := filepath.Join(t.TempDir(), "sparse.bin")
	result := engine.Run(context.Background(), engine.Config{
		Src:          srcPath,
		Dst:          dstPath,
		SparseDetect: true,
	})
	require.NoError(t, result.Err)

	want, err := os.ReadFile(srcPath)
	require.NoError(t, err)
	got, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRunDryRun(t *testing.T) {
	src := t.TempDir()
	createTestTree(t, src)

	dst := filepath.Join(t.TempDir(), "out")
	result := engine.Run(context.Background(), engine.Config{
		Src:       src,
		Dst:       dst,
		Recursive: true,
		DryRun:    true,
	})
	require.NoError(t, result.Err)
	require.Zero(t, result.Stats.FilesCopied)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	require.Empty(t, entries, "dry run must not write files")
}

func TestRunVerifyPasses(t *testing.T) {
	src := t.TempDir()
	createTestTree(t, src)

	dst := filepath.Join(t.TempDir(), "out")
	result := engine.Run(context.Background(), engine.Config{
		Src:       src,
		Dst:       dst,
		Recursive: true,
		Verify:    true,
	})
	require.NoError(t, result.Err)
	require.Equal(t, int64(4), result.Stats.FilesVerified)
	require.Zero(t, result.Stats.FilesVerifyFailed)
}

func TestRunVerifyDetectsCorruption(t *testing.T) {
	src := t.TempDir()
	createTestTree(t, src)

	dst := filepath.Join(t.TempDir(), "out")
	result := engine.Run(context.Background(), engine.Config{
		Src:       src,
		Dst:       dst,
		Recursive: true,
	})
	require.NoError(t, result.Err)

	// Flip the copy, then re-run with no-clobber so the corrupt file
	// survives to verification.
	require.NoError(t, os.WriteFile(filepath.Join(dst, "root.txt"), []byte("tampered"), 0o644))

	result = engine.Run(context.Background(), engine.Config{
		Src:       src,
		Dst:       dst,
		Recursive: true,
		NoClobber: true,
		Verify:    true,
	})
	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "checksum mismatch")

	var verifyErr engine.VerifyError
	require.ErrorAs(t, result.Err, &verifyErr)
	require.Equal(t, filepath.Join(dst, "root.txt"), verifyErr.Path)
}
