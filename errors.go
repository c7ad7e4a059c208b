// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"errors"
	"fmt"
)

// Kind classifies the failures surfaced by the guard.
type Kind int

const (
	// KindIO is any read, open or close failure that is not one of the other kinds.
	KindIO Kind = iota

	// KindEntryTooLarge means the decompressed size of an entry exceeded the maximum entry size.
	KindEntryTooLarge

	// KindInvalidCompressionRatio means the compressed/decompressed ratio of an entry fell below
	// the minimum inflate ratio after the grace size was reached.
	KindInvalidCompressionRatio

	// KindUnsupportedStream means the stream handed to the guard cannot report compression
	// statistics. This is an integration defect.
	KindUnsupportedStream

	// KindMalformedArchive means the leading structure of the archive is not recognizable.
	KindMalformedArchive
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEntryTooLarge:
		return "entry too large"
	case KindInvalidCompressionRatio:
		return "invalid compression ratio"
	case KindUnsupportedStream:
		return "unsupported stream"
	case KindMalformedArchive:
		return "malformed archive"
	default:
		return "i/o"
	}
}

var (
	// ErrIO is matched by every error of kind [KindIO], [KindEntryTooLarge] and
	// [KindInvalidCompressionRatio], so generic read error handling catches threshold
	// violations that are not handled specifically.
	ErrIO = errors.New("i/o failure")

	// ErrEntryTooLarge is returned if an entry decompresses to more than the maximum entry size.
	ErrEntryTooLarge = errors.New("The file exceeded the maximum entry size allowed") //nolint:stylecheck // stable message

	// ErrInvalidCompressionRatio is returned if an entry compresses better than the minimum inflate ratio allows.
	ErrInvalidCompressionRatio = errors.New("The file exceeded the maximum compression ratio allowed") //nolint:stylecheck // stable message

	// ErrUnsupportedStream is returned if a guard is constructed over a stream without statistics.
	ErrUnsupportedStream = errors.New("stream does not report compression statistics")

	// ErrMalformedArchive is returned if the archive does not start with a known zip record.
	ErrMalformedArchive = errors.New("no valid entries or contents found, this is not a valid file")

	// ErrNotSequential is returned by [GuardReader.NextEntry] if the guarded stream is not a
	// sequential archive cursor.
	ErrNotSequential = errors.New("next entry is only allowed for stream based zip processing")

	// ErrNegativeSkip is returned by [GuardReader.Skip] for a negative skip count.
	ErrNegativeSkip = errors.New("skip count must be non-negative")

	// ErrDecoderWindowTooLarge is returned if compressed data declares a dictionary larger
	// than the decoder is allowed to allocate.
	ErrDecoderWindowTooLarge = errors.New("decoder dictionary exceeds the allowed size")
)

// Error is the error type returned by the guard, the archive and the scanner.
type Error struct {
	// Kind of the failure
	Kind Kind

	// Op is the operation that failed, e.g. "read" or "open"
	Op string

	// Entry is the name of the archive entry, if known
	Entry string

	// Err is the underlying error
	Err error
}

// Error returns the message of the underlying error. Threshold violations keep their
// stable message, the entry name is available in [Error.Entry].
func (e *Error) Error() string {
	switch e.Kind {
	case KindEntryTooLarge, KindInvalidCompressionRatio:
		return e.Err.Error()
	}
	if e.Entry != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entry, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is [ErrIO] and e belongs to the i/o failure category.
func (e *Error) Is(target error) bool {
	if target != ErrIO {
		return false
	}
	switch e.Kind {
	case KindIO, KindEntryTooLarge, KindInvalidCompressionRatio:
		return true
	}
	return false
}

// newError creates an [Error]. The kind is derived from err if it is one of the sentinels.
func newError(op string, entry string, err error) *Error {
	return &Error{Kind: kindOfSentinel(err), Op: op, Entry: entry, Err: err}
}

func kindOfSentinel(err error) Kind {
	switch {
	case errors.Is(err, ErrEntryTooLarge):
		return KindEntryTooLarge
	case errors.Is(err, ErrInvalidCompressionRatio):
		return KindInvalidCompressionRatio
	case errors.Is(err, ErrUnsupportedStream):
		return KindUnsupportedStream
	case errors.Is(err, ErrMalformedArchive):
		return KindMalformedArchive
	}
	return KindIO
}

// KindOf returns the [Kind] of err. Errors that are not an [*Error] are of kind [KindIO].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return kindOfSentinel(err)
}

// IsThresholdViolation returns true if err is a [KindEntryTooLarge] or
// [KindInvalidCompressionRatio] failure.
func IsThresholdViolation(err error) bool {
	if err == nil {
		return false
	}
	k := KindOf(err)
	return k == KindEntryTooLarge || k == KindInvalidCompressionRatio
}
