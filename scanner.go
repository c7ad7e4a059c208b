// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// ErrTooManyEntries is the [ScanResult.Reason] of an archive with more entries than allowed.
var ErrTooManyEntries = errors.New("the archive exceeded the maximum number of entries allowed")

// ScanResult is the outcome of a scan. Scanning stops at the first detection.
type ScanResult struct {
	// Detected is true if the input is a probable bomb
	Detected bool

	// Reason is the threshold violation or [ErrTooManyEntries], nil if nothing was detected
	Reason error

	// Entry is the name of the entry that triggered the detection
	Entry string

	// EntriesSeen is the number of entries that have been seen
	EntriesSeen int64
}

// IsBomb tests the zip archive at location, a file path or a file:// URL, for a zip bomb.
// It returns true if the archive has more than maxEntries entries or one of its entries
// violates the limits while it is decompressed. Any other failure is returned as error.
func IsBomb(ctx context.Context, location string, maxEntries int64, opts ...ConfigOption) (bool, error) {
	res, err := Scan(ctx, location, maxEntries, opts...)
	if err != nil {
		return false, err
	}
	return res.Detected, nil
}

// Scan tests the zip archive at location like [IsBomb] and returns the [ScanResult].
func Scan(ctx context.Context, location string, maxEntries int64, opts ...ConfigOption) (*ScanResult, error) {
	cfg := NewConfig(append(opts, WithMaxEntries(maxEntries))...)
	td := newTelemetryData(FormatZip)
	defer cfg.TelemetryHook()(ctx, td)
	defer captureScanDuration(td, now())

	a, err := openLocation(location, cfg)
	if err != nil {
		return nil, handleError(cfg, td, "cannot open archive", err)
	}
	return scanArchive(ctx, a, cfg, td)
}

// ScanReader tests the zip archive read from src like [IsBomb]. A src without random
// access is cached first, see [WithCacheInMemory] and [WithMaxInputSize].
func ScanReader(ctx context.Context, src io.Reader, maxEntries int64, opts ...ConfigOption) (*ScanResult, error) {
	cfg := NewConfig(append(opts, WithMaxEntries(maxEntries))...)
	td := newTelemetryData(FormatZip)
	defer cfg.TelemetryHook()(ctx, td)
	defer captureScanDuration(td, now())

	return scanZipReader(ctx, src, cfg, td)
}

// ScanCompressedStream decompresses src, a standalone compressed stream like a gzip
// file, and reports a detection if it violates the limits. The format is detected by
// its magic bytes unless it is forced with [WithStreamFormat].
func ScanCompressedStream(ctx context.Context, src io.Reader, opts ...ConfigOption) (*ScanResult, error) {
	cfg := NewConfig(opts...)
	td := newTelemetryData(cfg.StreamFormat())
	defer cfg.TelemetryHook()(ctx, td)
	defer captureScanDuration(td, now())

	format := cfg.StreamFormat()
	if format == "" {
		header, r, err := peekHeader(src, maxHeaderLength)
		if err != nil {
			return nil, handleError(cfg, td, "cannot detect format", err)
		}
		format, src = DetectFormat(header), r
		td.ArchiveType = format
	}
	if format == "" || format == FormatZip {
		return nil, handleError(cfg, td, "cannot scan stream", fmt.Errorf("unsupported stream format %q", format))
	}
	return scanStream(ctx, src, format, cfg, td)
}

// ScanInput tests src, which is either a zip archive or a standalone compressed stream.
// The type is detected by the magic bytes unless it is forced with [WithStreamFormat].
// maxEntries applies to zip archives only.
func ScanInput(ctx context.Context, src io.Reader, maxEntries int64, opts ...ConfigOption) (*ScanResult, error) {
	cfg := NewConfig(append(opts, WithMaxEntries(maxEntries))...)
	td := newTelemetryData(cfg.StreamFormat())
	defer cfg.TelemetryHook()(ctx, td)
	defer captureScanDuration(td, now())

	format := cfg.StreamFormat()
	if format == "" {
		header, r, err := peekHeader(src, maxHeaderLength)
		if err != nil {
			return nil, handleError(cfg, td, "cannot detect format", err)
		}
		format, src = DetectFormat(header), r
		td.ArchiveType = format
	}

	switch format {
	case "":
		return nil, handleError(cfg, td, "cannot scan input", fmt.Errorf("%w: unknown format", ErrMalformedArchive))
	case FormatZip:
		return scanZipReader(ctx, src, cfg, td)
	default:
		return scanStream(ctx, src, format, cfg, td)
	}
}

// ScanFile opens the file at path and tests it like [ScanInput].
func ScanFile(ctx context.Context, path string, maxEntries int64, opts ...ConfigOption) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError("open", "", err)
	}
	defer f.Close()
	return ScanInput(ctx, f, maxEntries, opts...)
}

// scanZipReader caches src if needed and scans the archive.
func scanZipReader(ctx context.Context, src io.Reader, cfg *Config, td *TelemetryData) (*ScanResult, error) {
	a, err := openReader(src, cfg)
	if err != nil {
		return nil, handleError(cfg, td, "cannot open archive", err)
	}
	if ci, ok := a.closer.(*cachedInput); ok {
		td.InputSize = ci.size
	}
	return scanArchive(ctx, a, cfg, td)
}

// scanArchive drains every entry of a into io.Discard until the limits are violated.
// The archive is closed when the scan is finished.
func scanArchive(ctx context.Context, a *SecureArchive, cfg *Config, td *TelemetryData) (*ScanResult, error) {
	defer a.Close()

	cfg.Logger().Info("scanning archive", "scan", td.ScanID, "entries", len(a.entries))
	res := &ScanResult{}

	// the central directory is complete, so the entry count is checked before any
	// content is read
	if cfg.CheckMaxEntries(int64(len(a.entries))) {
		res.EntriesSeen = cfg.MaxEntries() + 1
		td.EntriesScanned = res.EntriesSeen
		cfg.Logger().Warn("archive exceeded maximum entries", "scan", td.ScanID, "entries", len(a.entries), "maxEntries", cfg.MaxEntries())
		return detected(td, res, a.entries[cfg.MaxEntries()].Name, ErrTooManyEntries), nil
	}

	for e := range a.Entries() {
		// check if context is canceled
		if err := ctx.Err(); err != nil {
			return nil, handleError(cfg, td, "context error", err)
		}

		res.EntriesSeen++
		td.EntriesScanned = res.EntriesSeen

		g, err := a.OpenEntryStream(e)
		if err != nil {
			return nil, handleError(cfg, td, "cannot open entry", err)
		}
		n, err := drain(g, td)
		switch {
		case IsThresholdViolation(err):
			return detected(td, res, e.Name, err), nil
		case err != nil:
			return nil, handleError(cfg, td, "cannot read entry", err)
		case n == 0:
			cfg.Logger().Debug("empty entry", "scan", td.ScanID, "entry", e.Name)
		}
	}

	cfg.Logger().Info("no bomb detected", "scan", td.ScanID, "entries", res.EntriesSeen)
	return res, nil
}

// scanStream drains the standalone compressed stream src.
func scanStream(ctx context.Context, src io.Reader, format string, cfg *Config, td *TelemetryData) (*ScanResult, error) {
	ler := newLimitErrorReader(src, cfg.MaxInputSize())
	defer func() { td.InputSize = ler.ReadBytes() }()

	cfg.Logger().Info("scanning stream", "scan", td.ScanID, "format", format)
	sr, err := newCompressedReader(ler, format, newDecoderLimits(cfg.MaxEntrySize()))
	if err != nil {
		return nil, handleError(cfg, td, "cannot decompress", err)
	}
	g, err := NewGuardReader(sr, cfg.guardOptions(format)...)
	if err != nil {
		return nil, handleError(cfg, td, "cannot guard stream", err)
	}

	res := &ScanResult{EntriesSeen: 1}
	td.EntriesScanned = 1
	_, err = drain(g, td)
	switch {
	case IsThresholdViolation(err):
		return detected(td, res, format, err), nil
	case err != nil:
		return nil, handleError(cfg, td, "cannot read stream", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, handleError(cfg, td, "context error", err)
	}
	return res, nil
}

// drain reads g into io.Discard and closes it.
func drain(g *GuardReader, td *TelemetryData) (int64, error) {
	defer g.Close()
	n, err := io.Copy(io.Discard, g)
	captureStatistics(td, g.Statistics())
	return n, err
}

// detected marks res and td as detection caused by reason.
func detected(td *TelemetryData, res *ScanResult, entry string, reason error) *ScanResult {
	res.Detected = true
	res.Reason = reason
	res.Entry = entry
	td.Detected = true
	td.DetectionReason = reason.Error()
	return res
}

// handleError sets the latest error and returns it.
func handleError(c *Config, td *TelemetryData, msg string, err error) error {
	td.LastScanError = fmt.Errorf("%s: %w", msg, err)
	c.Logger().Error(msg, "scan", td.ScanID, "error", err)
	return td.LastScanError
}

// newTelemetryData creates the telemetry data of a new scan.
func newTelemetryData(archiveType string) *TelemetryData {
	return &TelemetryData{ScanID: uuid.NewString(), ArchiveType: archiveType}
}

// peekHeader returns the first n bytes of src and a reader that still starts at the
// beginning of src.
func peekHeader(src io.Reader, n int) ([]byte, io.Reader, error) {
	// pipes implement io.ReaderAt too, but fail without consuming data
	if ra, ok := src.(io.ReaderAt); ok {
		buf := make([]byte, n)
		m, err := ra.ReadAt(buf, 0)
		if err == nil || errors.Is(err, io.EOF) {
			return buf[:m], src, nil
		}
	}
	hr, err := newHeaderReader(src, n)
	if err != nil {
		return nil, nil, err
	}
	return hr.PeekHeader(), hr, nil
}
