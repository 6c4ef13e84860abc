package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"parcp/internal/config"
	"parcp/internal/engine"
	"parcp/internal/filter"
	"parcp/internal/fsutil"
	"parcp/internal/stats"
)

var version = "dev"

const defaultChunkSize = 64 << 20 // 64 MiB

func main() {
	os.Exit(run())
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

func run() int {
	var (
		recursive     bool
		archive       bool
		workers       int
		chunkSizeStr  string
		includeHidden bool
		noClobber     bool
		noSparse      bool
		dryRun        bool
		verifyFlag    bool
		verbose       bool
		quiet         bool
		showVersion   bool
		minSizeStr    string
		maxSizeStr    string
		filterFile    string
	)

	chain := filter.NewChain()

	rootCmd := &cobra.Command{
		Use:   "parcp [flags] <source>... <destination>",
		Short: "Fast, parallel file copy with sparse file support",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.MinimumNArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "parcp %s\n", version)
				return nil
			}

			sources := args[:len(args)-1]
			dst := args[len(args)-1]

			for _, p := range append(sources, dst) {
				if fsutil.EmptyPath(p) {
					return fmt.Errorf("empty path argument")
				}
			}

			logLevel := slog.LevelWarn
			if verbose {
				logLevel = slog.LevelDebug
			} else if !quiet {
				logLevel = slog.LevelInfo
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			}))
			slog.SetDefault(logger)

			// Optional config file supplies defaults for flags not set
			// on the command line.
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults, &workers, &archive, &verifyFlag, &noSparse, &chunkSizeStr)

			if workers <= 0 {
				workers = min(runtime.NumCPU()*2, 32)
			}

			chunkSize := int64(defaultChunkSize)
			if chunkSizeStr != "" {
				chunkSize, err = filter.ParseSize(chunkSizeStr)
				if err != nil {
					return fmt.Errorf("invalid --chunk-size: %w", err)
				}
			}

			if filterFile != "" {
				if err := chain.LoadFile(filterFile); err != nil {
					return err
				}
			}

			if minSizeStr != "" {
				n, err := filter.ParseSize(minSizeStr)
				if err != nil {
					return fmt.Errorf("invalid --min-size: %w", err)
				}
				chain.SetMinSize(n)
			}
			if maxSizeStr != "" {
				n, err := filter.ParseSize(maxSizeStr)
				if err != nil {
					return fmt.Errorf("invalid --max-size: %w", err)
				}
				chain.SetMaxSize(n)
			}

			if dryRun {
				slog.Info("dry run mode")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var failed bool
			for _, src := range sources {
				result := engine.Run(ctx, engine.Config{
					Src:            src,
					Dst:            dst,
					Recursive:      recursive,
					Archive:        archive,
					Workers:        workers,
					ChunkThreshold: chunkSize,
					Filter:         chain,
					IncludeHidden:  includeHidden,
					NoClobber:      noClobber,
					SparseDetect:   !noSparse,
					DryRun:         dryRun,
					Verify:         verifyFlag,
				})
				if result.Err != nil {
					slog.Error("copy failed", "source", src, "error", result.Err)
					failed = true
				}
				printSummary(src, dst, result.Stats, quiet)
			}

			if failed {
				return fmt.Errorf("one or more copies failed")
			}
			return nil
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&recursive, "recursive", "r", false, "copy directories recursively")
	flags.BoolVarP(&archive, "archive", "a", false, "recursive copy preserving mode, times and ownership")
	flags.IntVarP(&workers, "workers", "w", 0, "number of copy workers (default: 2x CPUs, max 32)")
	flags.StringVar(&chunkSizeStr, "chunk-size", "", "split files larger than this into parallel chunks (default 64M)")
	flags.BoolVar(&includeHidden, "include-hidden", false, "also copy entries whose name starts with a dot")
	flags.BoolVarP(&noClobber, "no-clobber", "n", false, "never overwrite existing destination files")
	flags.BoolVar(&noSparse, "no-sparse", false, "disable sparse file detection")
	flags.BoolVar(&dryRun, "dry-run", false, "scan and report without copying")
	flags.BoolVar(&verifyFlag, "verify", false, "verify checksums after copying")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress all non-error output")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.StringVar(&minSizeStr, "min-size", "", "skip files smaller than this (e.g. 4K)")
	flags.StringVar(&maxSizeStr, "max-size", "", "skip files larger than this (e.g. 2G)")
	flags.StringVar(&filterFile, "filter-file", "", "load rsync-style filter rules from a file")
	flags.Var(&filterFlag{chain: chain, include: false}, "exclude", "exclude entries matching pattern (repeatable)")
	flags.Var(&filterFlag{chain: chain, include: true}, "include", "include entries matching pattern (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "parcp: %v\n", err)
		return 1
	}
	return 0
}

// applyConfigDefaults overrides flag values from the config file, but only
// for flags the user did not set explicitly.
func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	workers *int,
	archive, verify, noSparse *bool,
	chunkSize *string,
) {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }

	if !changed("workers") && defaults.Workers != nil {
		*workers = *defaults.Workers
	}
	if !changed("archive") && defaults.Archive != nil {
		*archive = *defaults.Archive
	}
	if !changed("verify") && defaults.Verify != nil {
		*verify = *defaults.Verify
	}
	if !changed("no-sparse") && defaults.Sparse != nil {
		*noSparse = !*defaults.Sparse
	}
	if !changed("chunk-size") && defaults.ChunkSize != nil {
		*chunkSize = *defaults.ChunkSize
	}
}

func printSummary(src, dst string, snap stats.Snapshot, quiet bool) {
	if quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "%s -> %s: %d files, %s in %s",
		src, dst, snap.FilesCopied, stats.FormatBytes(snap.BytesCopied),
		snap.Elapsed.Round(10*time.Millisecond))
	if snap.FilesFailed > 0 {
		fmt.Fprintf(os.Stderr, ", %d failed", snap.FilesFailed)
	}
	if snap.FilesSkipped > 0 {
		fmt.Fprintf(os.Stderr, ", %d skipped", snap.FilesSkipped)
	}
	fmt.Fprintln(os.Stderr)
}

var _ pflag.Value = (*filterFlag)(nil)
