// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"hash"
	"hash/crc32"
	"io"
	"io/fs"

	"github.com/klauspost/compress/zip"
)

// inflateStream decompresses one entry or stream and counts the compressed bytes the
// decoder consumed and the decompressed bytes it produced. The decoder is created on
// the first read, before that the compressed count is unavailable.
type inflateStream struct {
	src      *countingReader
	newDec   decompressor
	limits   decoderLimits
	dec      io.ReadCloser
	produced int64
	closed   bool

	// crc is set if the checksum of the decompressed data is verified at io.EOF
	crc     hash.Hash32
	wantCRC uint32

	// onClose is called once when the stream is closed
	onClose func()

	// parentClosed reports whether the owner of the source has been closed
	parentClosed func() bool
}

// newInflateStream creates an inflate stream. If parentClosed is not nil, reads fail
// with fs.ErrClosed as soon as it returns true.
func newInflateStream(src io.Reader, newDec decompressor, limits decoderLimits, parentClosed func() bool) *inflateStream {
	return &inflateStream{
		src:          newCountingReader(src),
		newDec:       newDec,
		limits:       limits,
		parentClosed: parentClosed,
	}
}

// verifyChecksum enables the CRC-32 verification against want.
func (s *inflateStream) verifyChecksum(want uint32) {
	s.crc = crc32.NewIEEE()
	s.wantCRC = want
}

// Read decompresses into p.
func (s *inflateStream) Read(p []byte) (int, error) {
	if s.closed || (s.parentClosed != nil && s.parentClosed()) {
		return 0, fs.ErrClosed
	}
	if s.dec == nil {
		dec, err := s.newDec(s.src, s.limits)
		if err != nil {
			return 0, err
		}
		s.dec = dec
	}

	n, err := s.dec.Read(p)
	s.produced += int64(n)
	if s.crc != nil {
		s.crc.Write(p[:n])
		if err == io.EOF && s.crc.Sum32() != s.wantCRC {
			err = zip.ErrChecksum
		}
	}
	return n, err
}

// CompressedCount returns the number of compressed bytes the decoder consumed.
func (s *inflateStream) CompressedCount() (int64, error) {
	if s.dec == nil {
		return 0, ErrStatisticsUnavailable
	}
	return s.src.Count(), nil
}

// UncompressedCount returns the number of decompressed bytes.
func (s *inflateStream) UncompressedCount() int64 {
	return s.produced
}

// Close releases the decoder. It is safe to call Close multiple times.
func (s *inflateStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.dec != nil {
		err = s.dec.Close()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return err
}
