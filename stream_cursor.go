// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// zip record signatures and sizes
// reference: https://pkware.cachefly.net/webdocs/casestudies/APPNOTE.TXT (4.3)
const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	dataDescriptorSignature  = 0x08074b50
	fileHeaderLen            = 30
	zip64ExtraID             = 0x0001
	flagEncrypted            = 0x1
	flagDataDescriptor       = 0x8
	uint32max                = (1 << 32) - 1
	streamReadAhead          = 4096
)

// zipCursor reads the entries of a zip archive sequentially from their local file
// headers. It does not need random access, but it cannot see the central directory.
type zipCursor struct {
	br      *bufio.Reader
	cur     *inflateStream
	limited *io.LimitedReader
	zip64   bool
	done    bool

	// maxEntrySize bounds the decompression of an unread data descriptor entry
	maxEntrySize int64
	limits       decoderLimits
}

// OpenStream returns a [GuardReader] that reads the zip archive from src entry by
// entry. Call [GuardReader.NextEntry] to advance to the first and every following
// entry; the reader is configured with the limits created from opts.
func OpenStream(src io.Reader, opts ...ConfigOption) (*GuardReader, error) {
	cfg := NewConfig(opts...)
	c := &zipCursor{
		br:           bufio.NewReaderSize(src, streamReadAhead),
		maxEntrySize: cfg.MaxEntrySize(),
		limits:       newDecoderLimits(cfg.MaxEntrySize()),
	}
	return NewGuardReader(c, cfg.guardOptions("")...)
}

// Next finishes the current entry and reads the next local file header.
func (c *zipCursor) Next() (*zip.FileHeader, error) {
	if c.done {
		return nil, io.EOF
	}
	if c.cur != nil {
		if err := c.finishEntry(); err != nil {
			return nil, err
		}
	}

	sigBytes, err := c.br.Peek(4)
	if err != nil {
		return nil, err
	}
	switch binary.LittleEndian.Uint32(sigBytes) {
	case fileHeaderSignature:
	case directoryHeaderSignature, directoryEndSignature:
		// the central directory follows the last entry
		c.done = true
		return nil, io.EOF
	default:
		return nil, newError("next entry", "", fmt.Errorf("%w: unexpected record signature 0x%x", ErrMalformedArchive, sigBytes))
	}

	fh, zip64, err := readLocalFileHeader(c.br)
	if err != nil {
		return nil, err
	}
	if fh.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%s: encrypted entries are not supported: %w", fh.Name, zip.ErrAlgorithm)
	}
	dec, err := methodDecompressor(fh.Method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fh.Name, err)
	}

	c.zip64 = zip64
	if fh.Flags&flagDataDescriptor != 0 {
		// the size is unknown until the decoder reaches the end of the data, only
		// deflate ends by itself without reading ahead
		if fh.Method != zip.Deflate {
			return nil, fmt.Errorf("%s: data descriptor with method %d: %w", fh.Name, fh.Method, zip.ErrAlgorithm)
		}
		c.limited = nil
		c.cur = newInflateStream(c.br, dec, c.limits, nil)
	} else {
		c.limited = &io.LimitedReader{R: c.br, N: int64(fh.CompressedSize64)}
		c.cur = newInflateStream(c.limited, dec, c.limits, nil)
		c.cur.verifyChecksum(fh.CRC32)
	}
	return fh, nil
}

// finishEntry skips the unread rest of the current entry and its data descriptor.
func (c *zipCursor) finishEntry() error {
	defer func() {
		c.cur.Close()
		c.cur = nil
	}()

	if c.limited != nil {
		_, err := io.Copy(io.Discard, c.limited)
		return err
	}

	// decode to the end of the deflate stream, then skip the descriptor
	rest := io.Reader(c.cur)
	if c.maxEntrySize > 0 {
		rest = io.LimitReader(c.cur, c.maxEntrySize-c.cur.UncompressedCount()+1)
	}
	if _, err := io.Copy(io.Discard, rest); err != nil && !errors.Is(err, zip.ErrChecksum) {
		return err
	}
	if c.maxEntrySize > 0 && c.cur.UncompressedCount() > c.maxEntrySize {
		return ErrEntryTooLarge
	}
	sig, err := c.br.Peek(4)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(sig) == dataDescriptorSignature {
		if _, err := c.br.Discard(4); err != nil {
			return err
		}
	}
	descriptorLen := 12
	if c.zip64 {
		descriptorLen = 20
	}
	_, err = c.br.Discard(descriptorLen)
	return err
}

// Read reads decompressed data of the current entry. Before the first call of Next
// and after the last entry it returns io.EOF.
func (c *zipCursor) Read(p []byte) (int, error) {
	if c.cur == nil {
		return 0, io.EOF
	}
	return c.cur.Read(p)
}

// CompressedCount returns the compressed bytes consumed in the current entry.
func (c *zipCursor) CompressedCount() (int64, error) {
	if c.cur == nil {
		return 0, ErrStatisticsUnavailable
	}
	return c.cur.CompressedCount()
}

// UncompressedCount returns the decompressed bytes produced in the current entry.
func (c *zipCursor) UncompressedCount() int64 {
	if c.cur == nil {
		return 0
	}
	return c.cur.UncompressedCount()
}

// Close releases the decoder of the current entry. The source is not closed.
func (c *zipCursor) Close() error {
	c.done = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}

// readLocalFileHeader reads a local file header including name and extra field. It
// reports whether the sizes were taken from a zip64 extra field.
func readLocalFileHeader(r io.Reader) (*zip.FileHeader, bool, error) {
	var buf [fileHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, false, err
	}
	le := binary.LittleEndian
	fh := &zip.FileHeader{
		ReaderVersion:    le.Uint16(buf[4:]),
		Flags:            le.Uint16(buf[6:]),
		Method:           le.Uint16(buf[8:]),
		ModifiedTime:     le.Uint16(buf[10:]),
		ModifiedDate:     le.Uint16(buf[12:]),
		CRC32:            le.Uint32(buf[14:]),
		CompressedSize:   le.Uint32(buf[18:]),
		UncompressedSize: le.Uint32(buf[22:]),
	}
	fh.CompressedSize64 = uint64(fh.CompressedSize)
	fh.UncompressedSize64 = uint64(fh.UncompressedSize)

	nameLen := int(le.Uint16(buf[26:]))
	extraLen := int(le.Uint16(buf[28:]))
	d := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(r, d); err != nil {
		return nil, false, err
	}
	fh.Name = string(d[:nameLen])
	fh.Extra = d[nameLen:]

	needUSize := fh.UncompressedSize == uint32max
	needCSize := fh.CompressedSize == uint32max
	zip64 := false
	for extra := fh.Extra; len(extra) >= 4; {
		tag := le.Uint16(extra)
		size := int(le.Uint16(extra[2:]))
		extra = extra[4:]
		if len(extra) < size {
			break
		}
		field := extra[:size]
		extra = extra[size:]
		if tag != zip64ExtraID {
			continue
		}
		zip64 = true
		if needUSize && len(field) >= 8 {
			fh.UncompressedSize64 = le.Uint64(field)
			field = field[8:]
			needUSize = false
		}
		if needCSize && len(field) >= 8 {
			fh.CompressedSize64 = le.Uint64(field)
			needCSize = false
		}
	}
	if needCSize && fh.Flags&flagDataDescriptor == 0 {
		return nil, false, fmt.Errorf("%s: missing zip64 compressed size: %w", fh.Name, zip.ErrFormat)
	}
	return fh, zip64, nil
}
