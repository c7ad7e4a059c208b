// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zip"
)

// Entry describes a file in a [SecureArchive]. The sizes are taken from the central
// directory of the archive, they are informational only and can be forged.
type Entry struct {
	// Name of the entry
	Name string

	// Method is the zip compression method
	Method uint16

	// CompressedSize is the declared compressed size
	CompressedSize uint64

	// UncompressedSize is the declared uncompressed size
	UncompressedSize uint64

	file    *zip.File
	archive *SecureArchive
}

// IsDir returns true if the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.file.FileInfo().IsDir()
}

// SecureArchive wraps a zip archive and hands out a [GuardReader] for every entry it
// opens, configured with the limits of its [Config].
//
// Closing the archive closes every stream opened from it. A SecureArchive is meant to be
// used by one goroutine; open one archive per goroutine for parallel reads.
type SecureArchive struct {
	cfg     *Config
	ra      io.ReaderAt
	zr      *zip.Reader
	entries []*Entry
	closer  io.Closer
	closed  atomic.Bool

	mu      sync.Mutex
	streams map[*inflateStream]struct{}
}

// Open opens the zip archive at location, a file path or a file:// URL, with the
// configuration created from opts.
func Open(location string, opts ...ConfigOption) (*SecureArchive, error) {
	return openLocation(location, NewConfig(opts...))
}

func openLocation(location string, cfg *Config) (*SecureArchive, error) {
	path, err := locationToPath(location)
	if err != nil {
		return nil, newError("open", "", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newError("open", "", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newError("open", "", err)
	}

	a, err := newSecureArchive(f, stat.Size(), cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// OpenReader opens the zip archive read from src. If src does not support random
// access, it is cached in memory or on disk, see [WithCacheInMemory] and
// [WithMaxInputSize]. The cache is removed when the archive is closed.
func OpenReader(src io.Reader, opts ...ConfigOption) (*SecureArchive, error) {
	return openReader(src, NewConfig(opts...))
}

func openReader(src io.Reader, cfg *Config) (*SecureArchive, error) {
	ci, err := cacheInput(cfg, src)
	if err != nil {
		return nil, newError("cache input", "", err)
	}

	a, err := newSecureArchive(ci, ci.size, cfg)
	if err != nil {
		ci.Close()
		return nil, err
	}
	a.closer = ci
	return a, nil
}

// NewSecureArchive reads the zip archive from r, which has the given size.
func NewSecureArchive(r io.ReaderAt, size int64, opts ...ConfigOption) (*SecureArchive, error) {
	return newSecureArchive(r, size, NewConfig(opts...))
}

func newSecureArchive(r io.ReaderAt, size int64, cfg *Config) (*SecureArchive, error) {
	// check the leading signature, the central directory alone is not enough
	// to tell an archive from a file with a zip appended
	header := make([]byte, 4)
	n, err := r.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, newError("open", "", err)
	}
	if !isZip(header[:n]) {
		return nil, newError("open", "", ErrMalformedArchive)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) || errors.Is(err, zip.ErrAlgorithm) {
			return nil, newError("open", "", fmt.Errorf("%w: %w", ErrMalformedArchive, err))
		}
		return nil, newError("open", "", err)
	}

	a := &SecureArchive{
		cfg:     cfg,
		ra:      r,
		zr:      zr,
		streams: make(map[*inflateStream]struct{}),
	}
	a.entries = make([]*Entry, 0, len(zr.File))
	for _, f := range zr.File {
		a.entries = append(a.entries, &Entry{
			Name:             f.Name,
			Method:           f.Method,
			CompressedSize:   f.CompressedSize64,
			UncompressedSize: f.UncompressedSize64,
			file:             f,
			archive:          a,
		})
	}

	cfg.Logger().Debug("opened archive", "entries", len(a.entries), "size", size)
	return a, nil
}

// Config returns the configuration of the archive.
func (a *SecureArchive) Config() *Config {
	return a.cfg
}

// MinInflateRatio returns the minimum accepted ratio of compressed to decompressed bytes.
func (a *SecureArchive) MinInflateRatio() float64 {
	return a.cfg.MinInflateRatio()
}

// MaxEntrySize returns the maximum allowed uncompressed size of an entry.
func (a *SecureArchive) MaxEntrySize() int64 {
	return a.cfg.MaxEntrySize()
}

// Entries returns the entries of the archive in central directory order. Every call
// starts a new iteration.
func (a *SecureArchive) Entries() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range a.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entry returns the first entry with the given name or an error that matches
// fs.ErrNotExist.
func (a *SecureArchive) Entry(name string) (*Entry, error) {
	for _, e := range a.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, newError("lookup", name, fs.ErrNotExist)
}

// OpenEntryStream returns a [GuardReader] over the decompressed content of e. The
// caller must close the reader before the archive is closed.
func (a *SecureArchive) OpenEntryStream(e *Entry) (*GuardReader, error) {
	if a.closed.Load() {
		return nil, newError("open entry", "", fs.ErrClosed)
	}
	if e == nil || e.archive != a {
		return nil, newError("open entry", "", fs.ErrNotExist)
	}

	dec, err := methodDecompressor(e.Method)
	if err != nil {
		return nil, newError("open entry", e.Name, err)
	}
	offset, err := e.file.DataOffset()
	if err != nil {
		return nil, newError("open entry", e.Name, err)
	}

	raw := io.NewSectionReader(a.ra, offset, int64(e.file.CompressedSize64))
	s := newInflateStream(raw, dec, newDecoderLimits(a.cfg.MaxEntrySize()), a.closed.Load)
	s.verifyChecksum(e.file.CRC32)
	a.track(s)

	g, err := NewGuardReader(s, a.cfg.guardOptions(e.Name)...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return g, nil
}

// track registers s so it is closed with the archive.
func (a *SecureArchive) track(s *inflateStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams[s] = struct{}{}
	s.onClose = func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.streams, s)
	}
}

// Close closes all open entry streams and the archive. It is safe to call Close
// multiple times.
func (a *SecureArchive) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	a.mu.Lock()
	streams := make([]*inflateStream, 0, len(a.streams))
	for s := range a.streams {
		streams = append(streams, s)
	}
	a.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// locationToPath converts a file:// URL to a path. Everything else is used as path.
func locationToPath(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// no URL or a windows drive letter
		return location, nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported location scheme %q", u.Scheme)
	}
	return u.Path, nil
}
