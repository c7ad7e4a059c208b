// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"bufio"
	"errors"
	"io"
)

//go:generate mockgen -destination=mock_statistics_test.go -package=zipguard_test . StatisticsReader

// ErrStatisticsUnavailable is returned by [Statistics.CompressedCount] if the decoder
// cannot currently tell how many compressed bytes it consumed.
var ErrStatisticsUnavailable = errors.New("compressed count unavailable")

// Statistics is implemented by decompressing streams that report how many bytes
// they consumed and produced so far.
type Statistics interface {
	// CompressedCount returns the number of compressed bytes consumed. A transient gap
	// in the decoder is reported with [ErrStatisticsUnavailable].
	CompressedCount() (int64, error)

	// UncompressedCount returns the number of decompressed bytes produced.
	UncompressedCount() int64
}

// StatisticsReader is a decompressing reader that reports its [Statistics].
type StatisticsReader interface {
	io.Reader
	Statistics
}

// countingReader counts the bytes a decoder takes from the compressed source. It
// implements io.ByteReader so flate based decoders do not add their own read-ahead
// buffer, which keeps the count exact.
type countingReader struct {
	br byteReader
	n  int64
}

// byteReader is the source interface flate decoders read from without buffering.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// newCountingReader wraps r. A source that is not an io.ByteReader is buffered, so it
// must not be shared with a consumer that relies on exact read boundaries.
func newCountingReader(r io.Reader) *countingReader {
	if br, ok := r.(byteReader); ok {
		return &countingReader{br: br}
	}
	return &countingReader{br: bufio.NewReaderSize(r, SkipBufferSize)}
}

// Read reads from the buffered source and counts the bytes.
func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadByte reads a single byte from the buffered source and counts it.
func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// Count returns the number of bytes handed out.
func (c *countingReader) Count() int64 {
	return c.n
}
