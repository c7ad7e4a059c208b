// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// zip compression methods beyond store and deflate
// reference: https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT (4.4.5)
const (
	methodBzip2 uint16 = 12
	methodZstd  uint16 = 93
	methodXz    uint16 = 95
)

// window limits of the zstd and xz decoders. The lower bound is the default
// window of the common zstd and xz presets.
const (
	minDecoderWindow = 8 << 20
	maxDecoderWindow = 128 << 20
)

// decoderLimits bounds the memory a decoder allocates for the window or dictionary
// declared in the compressed data, before any decompressed byte reaches the guard.
type decoderLimits struct {
	maxWindow uint64

	// maxMemory is 0 if the decoded size is unlimited
	maxMemory uint64
}

// newDecoderLimits derives the decoder limits from the maximum entry size.
func newDecoderLimits(maxEntrySize int64) decoderLimits {
	lim := decoderLimits{maxWindow: maxDecoderWindow}
	if maxEntrySize > 0 {
		lim.maxWindow = uint64(min(max(maxEntrySize, minDecoderWindow), maxDecoderWindow))
		lim.maxMemory = uint64(maxEntrySize) + lim.maxWindow
	}
	return lim
}

// decompressor creates a decoder that reads compressed data from r.
type decompressor func(r io.Reader, lim decoderLimits) (io.ReadCloser, error)

// methodDecompressors maps zip compression methods to their decoders
var methodDecompressors = map[uint16]decompressor{
	zip.Store:   decompressStore,
	zip.Deflate: decompressDeflate,
	methodBzip2: decompressBzip2,
	methodZstd:  decompressZstd,
	methodXz:    decompressXz,
}

// methodDecompressor returns the decoder for method or zip.ErrAlgorithm.
func methodDecompressor(method uint16) (decompressor, error) {
	d, ok := methodDecompressors[method]
	if !ok {
		return nil, fmt.Errorf("%w (method %d)", zip.ErrAlgorithm, method)
	}
	return d, nil
}

func decompressStore(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func decompressDeflate(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}

func decompressBzip2(r io.Reader, _ decoderLimits) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

// decompressZstd uses a single goroutine and low memory mode to keep the decoder
// close to the bytes it has actually produced. Frames declaring a larger window than
// allowed fail with zstd.ErrWindowSizeExceeded.
func decompressZstd(r io.Reader, lim decoderLimits) (io.ReadCloser, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(lim.maxWindow),
	}
	if lim.maxMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(lim.maxMemory))
	}
	dec, err := zstd.NewReader(r, opts...)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// decompressXz checks the dictionary size of the first block before the xz reader
// allocates the dictionary.
func decompressXz(r io.Reader, lim decoderLimits) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, xzMaxHeaderLen)
	if size, ok := xzDictSize(br); ok && size > lim.maxWindow {
		return nil, fmt.Errorf("%w: xz dictionary of %d bytes, limit %d", ErrDecoderWindowTooLarge, size, lim.maxWindow)
	}
	xr, err := xz.NewReader(br)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(xr), nil
}

// xz stream layout
// reference: https://tukaani.org/xz/xz-file-format.txt (2.1.1, 3.1, 5.3.1)
const (
	xzStreamHeaderLen = 12
	xzMaxHeaderLen    = xzStreamHeaderLen + 1024
	xzFilterLZMA2     = 0x21
)

// xzDictSize returns the dictionary size declared by the LZMA2 filter of the first
// block without consuming any data. ok is false if the header cannot be parsed; the
// xz reader reports the problem then.
func xzDictSize(br *bufio.Reader) (size uint64, ok bool) {
	hdr, err := br.Peek(xzStreamHeaderLen + 1)
	if err != nil || hdr[xzStreamHeaderLen] == 0 {
		return 0, false
	}
	blockLen := (int(hdr[xzStreamHeaderLen]) + 1) * 4
	data, err := br.Peek(xzStreamHeaderLen + blockLen)
	if err != nil {
		return 0, false
	}
	block := data[xzStreamHeaderLen:]

	flags := block[1]
	pos := 2
	// compressed and uncompressed size
	for _, bit := range []byte{0x40, 0x80} {
		if flags&bit == 0 {
			continue
		}
		_, n := binary.Uvarint(block[pos:])
		if n <= 0 {
			return 0, false
		}
		pos += n
	}

	for range int(flags&0x03) + 1 {
		id, n := binary.Uvarint(block[pos:])
		if n <= 0 {
			return 0, false
		}
		pos += n
		propLen, n := binary.Uvarint(block[pos:])
		if n <= 0 || pos+n+int(propLen) > len(block) {
			return 0, false
		}
		pos += n
		if id == xzFilterLZMA2 && propLen == 1 {
			return lzma2DictSize(block[pos]), true
		}
		pos += int(propLen)
	}
	return 0, false
}

// lzma2DictSize decodes the dictionary size property of the LZMA2 filter.
func lzma2DictSize(p byte) uint64 {
	if p >= 40 {
		return 1<<32 - 1
	}
	return uint64(2|p&1) << (p/2 + 11)
}
