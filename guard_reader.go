// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"errors"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zip"
)

const (
	// GraceEntrySize is the decompressed size up to which the inflate ratio is not
	// checked. Small entries have a high per-byte header overhead that produces
	// misleadingly bad ratios.
	GraceEntrySize = 100 * 1024

	// SkipBufferSize is the size of the buffer [GuardReader.Skip] reads into.
	SkipBufferSize = 2048
)

// maxConsecutiveEmptyReads is the number of reads without data after which Skip gives up
const maxConsecutiveEmptyReads = 100

// entryCursor is implemented by inner streams that read an archive sequentially.
type entryCursor interface {
	Next() (*zip.FileHeader, error)
}

// GuardOption is a function pointer to implement the option pattern for [NewGuardReader]
type GuardOption func(*GuardReader)

// WithGuardMinInflateRatio sets the minimum ratio of compressed to decompressed bytes.
func WithGuardMinInflateRatio(ratio float64) GuardOption {
	return func(g *GuardReader) {
		g.minInflateRatio = ratio
	}
}

// WithGuardMaxEntrySize sets the maximum decompressed size. (0 to disable check)
func WithGuardMaxEntrySize(size int64) GuardOption {
	return func(g *GuardReader) {
		g.maxEntrySize = size
	}
}

// WithGuardEntry sets the entry name that is used in errors and log messages.
func WithGuardEntry(name string) GuardOption {
	return func(g *GuardReader) {
		g.entry = name
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l logger) GuardOption {
	return func(g *GuardReader) {
		if l != nil {
			g.logger = l
		}
	}
}

// GuardReader wraps a decompressing stream and checks after every read that the
// decompressed size stays below the maximum entry size and that, beyond
// [GraceEntrySize], the ratio of compressed to decompressed bytes stays at or above
// the minimum inflate ratio.
//
// A GuardReader is owned by a single consumer and is not safe for concurrent use.
type GuardReader struct {
	r     io.Reader
	stats Statistics

	minInflateRatio float64
	maxEntrySize    int64
	entry           string
	guardEnabled    bool
	closed          bool
	logger          logger

	skipBuf []byte
}

// NewGuardReader returns a [GuardReader] over r with the default limits of [NewConfig].
// It fails with [ErrUnsupportedStream] if r does not implement [Statistics].
func NewGuardReader(r io.Reader, opts ...GuardOption) (*GuardReader, error) {
	stats, ok := r.(Statistics)
	if !ok {
		return nil, newError("guard", "", ErrUnsupportedStream)
	}

	g := &GuardReader{
		r:               r,
		stats:           stats,
		minInflateRatio: defaultMinInflateRatio,
		maxEntrySize:    defaultMaxEntrySize,
		guardEnabled:    true,
		logger:          defaultLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Read reads up to len(p) decompressed bytes and checks the thresholds if any byte
// was read. A threshold violation is returned together with the number of bytes read.
func (g *GuardReader) Read(p []byte) (int, error) {
	if g.closed {
		return 0, fs.ErrClosed
	}
	n, err := g.r.Read(p)
	if n > 0 {
		if cerr := g.checkThreshold(); cerr != nil {
			return n, cerr
		}
	}
	return n, err
}

// ReadByte reads a single decompressed byte and checks the thresholds. If the byte
// violates a threshold, it is dropped and only the error is returned.
func (g *GuardReader) ReadByte() (byte, error) {
	var b [1]byte
	for range maxConsecutiveEmptyReads {
		n, err := g.Read(b[:])
		if n == 1 {
			if err != nil && err != io.EOF {
				return 0, err
			}
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.ErrNoProgress
}

// Skip discards up to n decompressed bytes. It reads the data instead of seeking, so
// the skipped bytes pass the decoder and are counted. Skip returns the number of bytes
// skipped, or -1 if the end of the stream was reached before any byte was skipped.
func (g *GuardReader) Skip(n int64) (int64, error) {
	if n < 0 {
		return 0, ErrNegativeSkip
	}
	if n == 0 {
		return 0, nil
	}
	if g.closed {
		return 0, fs.ErrClosed
	}
	if g.skipBuf == nil {
		g.skipBuf = make([]byte, SkipBufferSize)
	}

	remain := n
	var rerr error
	for empty := 0; remain > 0; {
		m, err := g.r.Read(g.skipBuf[:min(remain, SkipBufferSize)])
		remain -= int64(m)
		if err == io.EOF {
			break
		}
		if err != nil {
			rerr = err
			break
		}
		if m > 0 {
			empty = 0
			continue
		}
		if empty++; empty >= maxConsecutiveEmptyReads {
			rerr = io.ErrNoProgress
			break
		}
	}

	skipped := n - remain
	if skipped > 0 {
		if cerr := g.checkThreshold(); cerr != nil {
			return skipped, cerr
		}
	}
	if rerr != nil {
		return skipped, rerr
	}
	if skipped == 0 {
		return -1, nil
	}
	return skipped, nil
}

// SetGuardEnabled enables or disables the threshold checks. A disabled guard can be
// used to re-process data that has already been validated.
func (g *GuardReader) SetGuardEnabled(enabled bool) {
	g.guardEnabled = enabled
}

// GuardEnabled returns true if the threshold checks are enabled.
func (g *GuardReader) GuardEnabled() bool {
	return g.guardEnabled
}

// Entry returns the name of the guarded entry.
func (g *GuardReader) Entry() string {
	return g.entry
}

// MinInflateRatio returns the minimum ratio of compressed to decompressed bytes.
func (g *GuardReader) MinInflateRatio() float64 {
	return g.minInflateRatio
}

// MaxEntrySize returns the maximum decompressed size.
func (g *GuardReader) MaxEntrySize() int64 {
	return g.maxEntrySize
}

// Statistics returns the statistics of the guarded stream.
func (g *GuardReader) Statistics() Statistics {
	return g.stats
}

// NextEntry advances a sequentially read archive to its next entry. It returns io.EOF
// if there are no more entries and [ErrMalformedArchive] if the input is not a zip
// archive. NextEntry fails with [ErrNotSequential] if the guarded stream is not read
// sequentially.
func (g *GuardReader) NextEntry() (*zip.FileHeader, error) {
	c, ok := g.r.(entryCursor)
	if !ok {
		return nil, ErrNotSequential
	}
	if g.closed {
		return nil, fs.ErrClosed
	}

	fh, err := c.Next()
	switch {
	case err == nil:
		g.entry = fh.Name
		return fh, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, io.EOF
	case KindOf(err) == KindMalformedArchive:
		return nil, err
	default:
		return nil, newError("next entry", g.entry, err)
	}
}

// Close closes the guarded stream. It is safe to call Close multiple times.
func (g *GuardReader) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	if c, ok := g.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// checkThreshold checks the statistics of the guarded stream against the limits.
func (g *GuardReader) checkThreshold() error {
	if !g.guardEnabled {
		return nil
	}

	payloadSize := g.stats.UncompressedCount()
	rawSize, err := g.stats.CompressedCount()
	if err != nil {
		// a gap in the decoder statistics must not let a bomb pass, a size of 0
		// can only fail the ratio check
		g.logger.Debug("compressed count unavailable", "entry", g.entry, "error", err)
		rawSize = 0
	}

	// check the size first, it also applies to stored entries
	if g.maxEntrySize > 0 && payloadSize > g.maxEntrySize {
		g.logger.Warn("entry exceeded maximum size", "entry", g.entry, "size", payloadSize, "maxEntrySize", g.maxEntrySize)
		return newError("read", g.entry, ErrEntryTooLarge)
	}

	// don't alert for small expanded size
	if payloadSize <= GraceEntrySize {
		return nil
	}

	ratio := float64(rawSize) / float64(payloadSize)
	if g.minInflateRatio > 0 && ratio >= g.minInflateRatio {
		return nil
	}

	g.logger.Warn("entry exceeded maximum compression ratio", "entry", g.entry, "size", payloadSize, "compressedSize", rawSize, "ratio", ratio, "minInflateRatio", g.minInflateRatio)
	return newError("read", g.entry, ErrInvalidCompressionRatio)
}
