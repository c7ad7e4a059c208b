// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"errors"
	"io"
)

// errInputLimitExceeded is returned if a cached input is larger than the maximum input size
var errInputLimitExceeded = errors.New("input size exceeds maximum input size")

// limitErrorReader is a reader that returns an error if the limit is exceeded
// before the underlying reader is fully read.
// If the limit is -1, all data from the original reader is read.
type limitErrorReader struct {
	R io.Reader // underlying reader
	L int64     // limit
	N int64     // number of bytes read
}

// Read reads from the underlying reader and fills up p.
// It returns an error if the limit is exceeded, even if the underlying reader is not fully read.
// If the limit is -1, all data from the original reader is read.
func (l *limitErrorReader) Read(p []byte) (int, error) {
	// determine how many bytes to read, one more than the limit to detect an overflow
	if l.L >= 0 {
		if l.N > l.L {
			return 0, errInputLimitExceeded
		}
		if m := l.L - l.N + 1; m < int64(len(p)) {
			p = p[:m]
		}
	}

	// read from underlying reader and preserve error type
	n, err := l.R.Read(p)
	l.N += int64(n)
	if l.L >= 0 && l.N > l.L {
		return n, errInputLimitExceeded
	}
	return n, err
}

// ReadBytes returns how many bytes have been read from the underlying reader
func (l *limitErrorReader) ReadBytes() int64 {
	return l.N
}

// newLimitErrorReader returns a new limitErrorReader that reads from r
func newLimitErrorReader(r io.Reader, limit int64) *limitErrorReader {
	return &limitErrorReader{R: r, L: limit, N: 0}
}
