// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// file extensions of the supported standalone compression formats
const (
	FormatBrotli = "br"
	FormatBzip2  = "bz2"
	FormatGZip   = "gz"
	FormatLZ4    = "lz4"
	FormatSnappy = "sz"
	FormatXz     = "xz"
	FormatZip    = "zip"
	FormatZlib   = "zz"
	FormatZstd   = "zst"
)

// streamFormat describes a standalone compression format
type streamFormat struct {
	MagicBytes   [][]byte
	Decompressor decompressor
}

// streamFormats contains the standalone formats that can be guarded. Brotli has no
// magic bytes and is only used if forced with [WithStreamFormat].
var streamFormats = map[string]streamFormat{
	FormatBrotli: {
		Decompressor: func(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		},
	},
	FormatBzip2: {
		MagicBytes: [][]byte{
			[]byte("BZh1"), []byte("BZh2"), []byte("BZh3"),
			[]byte("BZh4"), []byte("BZh5"), []byte("BZh6"),
			[]byte("BZh7"), []byte("BZh8"), []byte("BZh9"),
		},
		Decompressor: decompressBzip2,
	},
	FormatGZip: {
		MagicBytes: [][]byte{{0x1f, 0x8b}},
		Decompressor: func(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	},
	FormatLZ4: {
		MagicBytes: [][]byte{{0x04, 0x22, 0x4D, 0x18}},
		Decompressor: func(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	},
	FormatSnappy: {
		MagicBytes: [][]byte{append([]byte{0xff, 0x06, 0x00, 0x00}, []byte("sNaPpY")...)},
		Decompressor: func(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
			return io.NopCloser(snappy.NewReader(r)), nil
		},
	},
	FormatXz: {
		MagicBytes:   [][]byte{{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
		Decompressor: decompressXz,
	},
	FormatZlib: {
		MagicBytes: [][]byte{
			{0x78, 0x01}, {0x78, 0x5e}, {0x78, 0x9c}, {0x78, 0xda},
			{0x78, 0x20}, {0x78, 0x7d}, {0x78, 0xbb}, {0x78, 0xf9},
		},
		Decompressor: func(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		},
	},
	FormatZstd: {
		MagicBytes:   [][]byte{{0x28, 0xb5, 0x2f, 0xfd}},
		Decompressor: decompressZstd,
	},
}

// magicBytesZip contains the magic bytes of a zip archive: a local file header or,
// for an archive without entries, the end of central directory record.
var magicBytesZip = [][]byte{
	{0x50, 0x4B, 0x03, 0x04},
	{0x50, 0x4B, 0x05, 0x06},
}

// maxHeaderLength is the number of bytes needed to detect every format
var maxHeaderLength int

// init calculates the maximum header length
func init() {
	for _, f := range streamFormats {
		for _, mb := range f.MagicBytes {
			if len(mb) > maxHeaderLength {
				maxHeaderLength = len(mb)
			}
		}
	}
	for _, mb := range magicBytesZip {
		if len(mb) > maxHeaderLength {
			maxHeaderLength = len(mb)
		}
	}
}

// matchesMagicBytes checks if data starts at offset with one of magicBytes.
func matchesMagicBytes(data []byte, offset int, magicBytes [][]byte) bool {
	for _, mb := range magicBytes {
		if offset+len(mb) > len(data) {
			continue
		}
		if bytes.Equal(mb, data[offset:offset+len(mb)]) {
			return true
		}
	}
	return false
}

// isZip checks if header is the start of a zip archive.
func isZip(header []byte) bool {
	return matchesMagicBytes(header, 0, magicBytesZip)
}

// DetectFormat returns the format of header, [FormatZip] for a zip archive or an
// empty string if the format is unknown. Zlib is checked last because its two byte
// magic is the weakest signal.
func DetectFormat(header []byte) string {
	if isZip(header) {
		return FormatZip
	}
	for _, name := range []string{FormatGZip, FormatZstd, FormatXz, FormatBzip2, FormatLZ4, FormatSnappy, FormatZlib} {
		if matchesMagicBytes(header, 0, streamFormats[name].MagicBytes) {
			return name
		}
	}
	return ""
}

// NewCompressedReader returns a [StatisticsReader] that decompresses src, which is
// compressed with format. The zstd and xz decoders are bounded for the default maximum
// entry size.
func NewCompressedReader(src io.Reader, format string) (StatisticsReader, error) {
	s, err := newCompressedReader(src, format, newDecoderLimits(defaultMaxEntrySize))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newCompressedReader(src io.Reader, format string, lim decoderLimits) (*inflateStream, error) {
	f, ok := streamFormats[format]
	if !ok {
		return nil, fmt.Errorf("unsupported stream format %q", format)
	}
	return newInflateStream(src, f.Decompressor, lim, nil), nil
}
