// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package zipguard protects code that decompresses untrusted archives against zip bombs.
//
// A [GuardReader] wraps a decompressing stream and checks after every read that the
// decompressed size of the entry stays below the maximum entry size and that, once the
// entry is larger than [GraceEntrySize], the ratio of compressed to decompressed bytes
// does not fall below the minimum inflate ratio. Violations are reported while data is
// read, without buffering the payload, as [ErrEntryTooLarge] or
// [ErrInvalidCompressionRatio].
//
// A [SecureArchive] opens a zip archive and hands out a guarded stream for every entry,
// [OpenStream] reads a zip archive sequentially and [NewCompressedReader] decompresses
// standalone gzip, zstd, xz, bzip2, lz4, snappy, zlib and brotli streams. [IsBomb] and the
// Scan functions drain an input completely and report whether it is a probable bomb.
//
// Configuration is done with [NewConfig] and its options, which set the limits, the
// logger and a [TelemetryHook] that receives the [TelemetryData] of every scan.
package zipguard
