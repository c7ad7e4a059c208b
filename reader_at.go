// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// cachedInput is an input that has been made randomly accessible.
type cachedInput struct {
	io.ReaderAt
	size    int64
	cleanup func() error
}

// Close removes the cache.
func (c *cachedInput) Close() error {
	if c.cleanup == nil {
		return nil
	}
	cleanup := c.cleanup
	c.cleanup = nil
	return cleanup()
}

// sizedReaderAt is an io.ReaderAt that knows its size, like *bytes.Reader.
type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// cacheInput converts r to an io.ReaderAt. Readers that already support random access
// are used as they are, everything else is cached in memory or in a temporary file,
// depending on [Config.CacheInMemory]. The cache is limited to [Config.MaxInputSize].
func cacheInput(c *Config, r io.Reader) (*cachedInput, error) {
	// check if reader is a file
	if f, ok := r.(*os.File); ok {
		if stat, err := f.Stat(); err == nil && stat.Mode().IsRegular() {
			return &cachedInput{ReaderAt: f, size: stat.Size()}, nil
		}
	}

	// check if reader knows its size
	if s, ok := r.(sizedReaderAt); ok {
		return &cachedInput{ReaderAt: s, size: s.Size()}, nil
	}

	// check if reader is a buffer
	if b, ok := r.(*bytes.Buffer); ok {
		return &cachedInput{ReaderAt: bytes.NewReader(b.Bytes()), size: int64(b.Len())}, nil
	}

	// limit reader
	ler := newLimitErrorReader(r, c.MaxInputSize())

	// check how to cache
	if c.CacheInMemory() {
		b, err := io.ReadAll(ler)
		if err != nil {
			return nil, fmt.Errorf("cannot read all from reader: %w", err)
		}
		return &cachedInput{ReaderAt: bytes.NewReader(b), size: int64(len(b))}, nil
	}

	// create temp file
	tmpFile, err := os.CreateTemp("", "zipguard-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create cache file: %w", err)
	}
	remove := func() error {
		tmpFile.Close()
		return os.Remove(tmpFile.Name())
	}

	// copy reader to temp file
	n, err := io.Copy(tmpFile, ler)
	if err != nil {
		defer remove()
		return nil, fmt.Errorf("cannot copy reader to file: %w", err)
	}

	c.Logger().Debug("cached input on disk", "file", tmpFile.Name(), "size", n)
	return &cachedInput{ReaderAt: tmpFile, size: n, cleanup: remove}, nil
}
