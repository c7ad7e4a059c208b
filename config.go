// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"context"
	"io"
	"log/slog"
)

// ConfigOption is a function pointer to implement the option pattern
type ConfigOption func(*Config)

// Config holds the limits and the ambient settings of an archive or a scan.
//
// A Config is created once with [NewConfig] and not modified afterwards. All entries opened
// from the same [SecureArchive] share the same Config.
//
// The default configuration flags entries that decompress to more than 4 GiB, the 32-bit zip
// format maximum, or that compress better than 0.75% once they exceed the grace size.
type Config struct {
	// cacheInMemory offers the option to enable/disable caching in memory. This applies only
	// to archives, which are provided as a stream.
	cacheInMemory bool

	// logger stream for the guard
	logger logger

	// maxEntries is the number of entries after which a scan reports a bomb.
	maxEntries int64

	// maxEntrySize is the maximum size of an entry after decompression.
	// Set value to 0 or less to disable the check.
	maxEntrySize int64

	// maxInputSize is the maximum size of a cached input stream.
	// Set value to -1 to disable the check.
	maxInputSize int64

	// minInflateRatio is the minimum ratio of compressed to decompressed bytes.
	// Set value to 0 or less to flag every entry beyond the grace size.
	minInflateRatio float64

	// streamFormat forces the format of a standalone compressed stream
	streamFormat string

	// telemetryHook is a function to consume telemetry data after a finished scan
	telemetryHook TelemetryHook
}

// CacheInMemory returns true if caching in memory is enabled. This applies only to
// archives, which are provided as a stream.
//
// If set to false, the cache is stored on disk to avoid memory exhaustion.
func (c *Config) CacheInMemory() bool {
	return c.cacheInMemory
}

// CheckMaxEntries checks if counter exceeds the configured maximum number of entries.
func (c *Config) CheckMaxEntries(counter int64) bool {
	return c.maxEntries >= 0 && counter > c.maxEntries
}

// Logger returns the logger.
func (c *Config) Logger() logger {
	return c.logger
}

// MaxEntries returns the number of entries after which a scan reports a bomb.
func (c *Config) MaxEntries() int64 {
	return c.maxEntries
}

// MaxEntrySize returns the maximum allowed uncompressed size of an entry.
func (c *Config) MaxEntrySize() int64 {
	return c.maxEntrySize
}

// MaxInputSize returns the maximum size of a cached input stream.
func (c *Config) MaxInputSize() int64 {
	return c.maxInputSize
}

// MinInflateRatio returns the minimum accepted ratio of compressed to decompressed bytes.
func (c *Config) MinInflateRatio() float64 {
	return c.minInflateRatio
}

// StreamFormat returns the forced format of a standalone compressed stream. An empty
// string means the format is detected from the magic bytes.
func (c *Config) StreamFormat() string {
	return c.streamFormat
}

// TelemetryHook returns the telemetry hook.
func (c *Config) TelemetryHook() TelemetryHook {
	if c.telemetryHook == nil {
		return defaultTelemetryHook
	}
	return c.telemetryHook
}

// guardOptions returns the guard options that apply the limits of c.
func (c *Config) guardOptions(entry string) []GuardOption {
	return []GuardOption{
		WithGuardMinInflateRatio(c.minInflateRatio),
		WithGuardMaxEntrySize(c.maxEntrySize),
		WithGuardLogger(c.logger),
		WithGuardEntry(entry),
	}
}

const (
	defaultCacheInMemory   = false         // cache on disk
	defaultMaxEntries      = 10000         // 10k entries
	defaultMaxEntrySize    = 4294967296    // 4 GiB, 32-bit zip format maximum
	defaultMaxInputSize    = 1 << (10 * 3) // 1 GiB
	defaultMinInflateRatio = 0.0075        // 0.75%
	defaultStreamFormat    = ""            // detect by magic bytes
)

var (
	// slog to discard
	defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	// no operation telemetry hook
	defaultTelemetryHook = func(ctx context.Context, d *TelemetryData) {
		// noop
	}
)

// NewConfig is a generator option that takes opts as adjustments of the
// default configuration in an option pattern style.
func NewConfig(opts ...ConfigOption) *Config {
	config := &Config{
		cacheInMemory:   defaultCacheInMemory,
		logger:          defaultLogger,
		maxEntries:      defaultMaxEntries,
		maxEntrySize:    defaultMaxEntrySize,
		maxInputSize:    defaultMaxInputSize,
		minInflateRatio: defaultMinInflateRatio,
		streamFormat:    defaultStreamFormat,
		telemetryHook:   defaultTelemetryHook,
	}

	for _, opt := range opts {
		opt(config)
	}

	return config
}

// WithCacheInMemory options pattern function to enable/disable caching in memory.
// This applies only to archives, which are provided as a stream.
func WithCacheInMemory(cache bool) ConfigOption {
	return func(c *Config) {
		c.cacheInMemory = cache
	}
}

// WithLogger options pattern function to set a custom logger.
func WithLogger(logger logger) ConfigOption {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxEntries options pattern function to set the number of entries after which
// a scan reports a bomb. (-1 to disable check)
func WithMaxEntries(maxEntries int64) ConfigOption {
	return func(c *Config) {
		c.maxEntries = maxEntries
	}
}

// WithMaxEntrySize options pattern function to set the maximum decompressed size of
// a single entry. (0 to disable check)
func WithMaxEntrySize(maxEntrySize int64) ConfigOption {
	return func(c *Config) {
		c.maxEntrySize = maxEntrySize
	}
}

// WithMaxInputSize options pattern function to set the maximum size of an input stream
// that is cached before it is opened as archive. (-1 to disable check)
func WithMaxInputSize(maxInputSize int64) ConfigOption {
	return func(c *Config) {
		c.maxInputSize = maxInputSize
	}
}

// WithMinInflateRatio options pattern function to set the minimum ratio of compressed
// to decompressed bytes, e.g. 0.0075 for 0.75%.
func WithMinInflateRatio(ratio float64) ConfigOption {
	return func(c *Config) {
		c.minInflateRatio = ratio
	}
}

// WithStreamFormat options pattern function to force the format of a standalone
// compressed stream, e.g. "br" for brotli which has no magic bytes.
func WithStreamFormat(format string) ConfigOption {
	return func(c *Config) {
		c.streamFormat = format
	}
}

// WithTelemetryHook options pattern function to set a [TelemetryHook], which is called after a scan.
func WithTelemetryHook(hook TelemetryHook) ConfigOption {
	return func(c *Config) {
		c.telemetryHook = hook
	}
}
