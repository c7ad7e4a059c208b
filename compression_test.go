// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/golang/snappy"
	"github.com/hashicorp/go-zipguard"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compressTestData compresses data with format
func compressTestData(t *testing.T, format string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case zipguard.FormatBrotli:
		w = brotli.NewWriter(&buf)
	case zipguard.FormatBzip2:
		w, err = bzip2Compressor(&buf)
	case zipguard.FormatGZip:
		w = gzip.NewWriter(&buf)
	case zipguard.FormatLZ4:
		w = lz4.NewWriter(&buf)
	case zipguard.FormatSnappy:
		w = snappy.NewBufferedWriter(&buf)
	case zipguard.FormatXz:
		w, err = xzCompressor(&buf)
	case zipguard.FormatZlib:
		w = zlib.NewWriter(&buf)
	case zipguard.FormatZstd:
		w, err = zstd.NewWriter(&buf)
	default:
		t.Fatalf("unsupported format %q", format)
	}
	if err != nil {
		t.Fatalf("error creating %s writer: %v", format, err)
	}

	if _, err := w.Write(data); err != nil {
		t.Fatalf("error compressing %s: %v", format, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("error closing %s writer: %v", format, err)
	}
	return buf.Bytes()
}

// bzip2Compressor is the zip compressor of method 12
func bzip2Compressor(w io.Writer) (io.WriteCloser, error) {
	bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, err
	}
	return bw, nil
}

// TestDetectFormat implements test cases for the magic byte detection
func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		expect string
	}{
		{
			name:   "gzip",
			header: compressTestData(t, zipguard.FormatGZip, []byte("hello")),
			expect: zipguard.FormatGZip,
		},
		{
			name:   "zstd",
			header: compressTestData(t, zipguard.FormatZstd, []byte("hello")),
			expect: zipguard.FormatZstd,
		},
		{
			name:   "xz",
			header: compressTestData(t, zipguard.FormatXz, []byte("hello")),
			expect: zipguard.FormatXz,
		},
		{
			name:   "lz4",
			header: compressTestData(t, zipguard.FormatLZ4, []byte("hello")),
			expect: zipguard.FormatLZ4,
		},
		{
			name:   "snappy",
			header: compressTestData(t, zipguard.FormatSnappy, []byte("hello")),
			expect: zipguard.FormatSnappy,
		},
		{
			name:   "zlib",
			header: compressTestData(t, zipguard.FormatZlib, []byte("hello")),
			expect: zipguard.FormatZlib,
		},
		{
			name:   "bzip2",
			header: compressTestData(t, zipguard.FormatBzip2, []byte("hello")),
			expect: zipguard.FormatBzip2,
		},
		{
			name:   "zip",
			header: createTestZip(t, testEntry{name: "a.txt", method: zip.Deflate, content: []byte("a")}),
			expect: zipguard.FormatZip,
		},
		{
			name:   "empty zip",
			header: createTestZip(t),
			expect: zipguard.FormatZip,
		},
		{
			name:   "text",
			header: []byte("hello world"),
			expect: "",
		},
		{
			name:   "short header",
			header: []byte{0x1f},
			expect: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, zipguard.DetectFormat(tc.header))
		})
	}
}

// TestNewCompressedReader checks the statistics of a compressed reader
func TestNewCompressedReader(t *testing.T) {
	content := loremIpsum(50 * 1000)
	data := compressTestData(t, zipguard.FormatGZip, content)

	r, err := zipguard.NewCompressedReader(bytes.NewReader(data), zipguard.FormatGZip)
	require.NoError(t, err)

	// no statistics before the decoder has been started
	_, err = r.CompressedCount()
	assert.ErrorIs(t, err, zipguard.ErrStatisticsUnavailable)

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.Equal(t, int64(len(content)), r.UncompressedCount())

	n, err := r.CompressedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	_, err = zipguard.NewCompressedReader(bytes.NewReader(data), "rar")
	assert.Error(t, err)
}

// TestDecoderWindowLimit implements test cases for streams declaring a dictionary above the decoder limit
func TestDecoderWindowLimit(t *testing.T) {
	// xz stream with the LZMA2 dictionary property of the first block set to 4 GiB
	oversizedXz := compressTestData(t, zipguard.FormatXz, []byte("hello"))
	prop := bytes.Index(oversizedXz[12:], []byte{0x21, 0x01}) + 12 + 2
	require.Greater(t, prop, 12+2)
	oversizedXz[prop] = 40

	cases := []struct {
		name        string
		format      string
		data        []byte
		expectError error
	}{
		{
			// frame header with a 256 MiB window and an empty last raw block
			name:        "zstd window of 256 MiB",
			format:      zipguard.FormatZstd,
			data:        []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x90, 0x01, 0x00, 0x00},
			expectError: zstd.ErrWindowSizeExceeded,
		},
		{
			name:        "xz dictionary of 4 GiB",
			format:      zipguard.FormatXz,
			data:        oversizedXz,
			expectError: zipguard.ErrDecoderWindowTooLarge,
		},
		{
			name:   "xz default dictionary",
			format: zipguard.FormatXz,
			data:   compressTestData(t, zipguard.FormatXz, []byte("hello")),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := zipguard.NewCompressedReader(bytes.NewReader(tc.data), tc.format)
			require.NoError(t, err)

			_, err = io.ReadAll(r)
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				return
			}
			assert.NoError(t, err)
		})
	}
}
