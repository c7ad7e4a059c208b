// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-zipguard"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// exit codes of the cli
const (
	exitClean    = 0
	exitDetected = 1
	exitError    = 2
)

// CLI are the cli parameters for zipguard binary
type CLI struct {
	Archives        []string         `arg:"" name:"archive" help:"Path to archive or compressed file. (\"-\" for STDIN)"`
	CacheInMemory   bool             `optional:"" help:"Cache archives read from STDIN in memory instead of a temporary file."`
	Format          string           `optional:"" help:"Force the format of a standalone compressed stream (br, bz2, gz, lz4, sz, xz, zz, zst)."`
	MaxEntries      int64            `optional:"" default:"10000" help:"Maximum entries of an archive before it is reported as bomb. (disable check: -1)"`
	MaxEntrySize    int64            `optional:"" default:"4294967296" help:"Maximum decompressed size of an entry (in bytes). (disable check: 0)"`
	MaxInputSize    int64            `optional:"" default:"1073741824" help:"Maximum input size that is cached (in bytes). (disable check: -1)"`
	MinInflateRatio float64          `optional:"" default:"0.0075" help:"Minimum ratio of compressed to decompressed bytes."`
	Parallel        int              `short:"p" optional:"" default:"4" help:"Number of archives that are scanned in parallel."`
	Telemetry       bool             `short:"T" optional:"" default:"false" help:"Print telemetry data to log after each scan."`
	Verbose         bool             `short:"v" optional:"" help:"Verbose logging."`
	Version         kong.VersionFlag `short:"V" optional:"" help:"Print release version information."`
}

// Run the entrypoint into zipguard as a cli tool
func Run(version, commit, date string) {
	var cli CLI
	kong.Parse(&cli,
		kong.Description("A zip bomb scanner"),
		kong.UsageOnError(),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s), commit %s, built at %s", filepath.Base(os.Args[0]), version, commit, date),
		},
	)

	// Check for verbose output
	logLevel := slog.LevelError
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	os.Exit(cli.Scan(context.Background(), os.Stdin, os.Stdout, logger))
}

// Scan scans all archives of the cli, prints one result line per archive to out and
// returns the exit code.
func (cli *CLI) Scan(ctx context.Context, stdin io.Reader, out io.Writer, logger *slog.Logger) int {
	// setup telemetry hook
	telemetryToLog := func(ctx context.Context, td *zipguard.TelemetryData) {
		if cli.Telemetry {
			logger.Info("scan finished", "telemetry", td)
		}
	}

	// process cli params
	opts := []zipguard.ConfigOption{
		zipguard.WithCacheInMemory(cli.CacheInMemory),
		zipguard.WithLogger(logger),
		zipguard.WithMaxEntrySize(cli.MaxEntrySize),
		zipguard.WithMaxInputSize(cli.MaxInputSize),
		zipguard.WithMinInflateRatio(cli.MinInflateRatio),
		zipguard.WithStreamFormat(cli.Format),
		zipguard.WithTelemetryHook(telemetryToLog),
	}

	results := make([]string, len(cli.Archives))
	codes := make([]int, len(cli.Archives))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cli.Parallel, 1))
	var stdinOnce sync.Once
	for i, archive := range cli.Archives {
		g.Go(func() error {
			var res *zipguard.ScanResult
			var err error
			if archive == "-" {
				err = errors.New("stdin can only be scanned once")
				stdinOnce.Do(func() {
					res, err = zipguard.ScanInput(ctx, bufio.NewReader(stdin), cli.MaxEntries, opts...)
				})
			} else {
				res, err = zipguard.ScanFile(ctx, archive, cli.MaxEntries, opts...)
			}
			results[i], codes[i] = formatResult(archive, res, err)

			// a failed scan must not cancel the other archives
			return nil
		})
	}
	_ = g.Wait()

	code := exitClean
	for i := range results {
		fmt.Fprintln(out, results[i])
		code = max(code, codes[i])
	}
	return code
}

// formatResult formats the result line of one archive and returns its exit code.
func formatResult(archive string, res *zipguard.ScanResult, err error) (string, int) {
	if err != nil {
		err = errors.Wrapf(err, "scanning %s failed", archive)
		return fmt.Sprintf("%s: error: %v", archive, err), exitError
	}
	if res.Detected {
		if res.Entry != "" {
			return fmt.Sprintf("%s: bomb: %s (%s)", archive, res.Reason, res.Entry), exitDetected
		}
		return fmt.Sprintf("%s: bomb: %s", archive, res.Reason), exitDetected
	}
	return fmt.Sprintf("%s: ok (%d entries)", archive, res.EntriesSeen), exitClean
}
