// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard

import (
	"context"
	"encoding/json"
	"time"
)

// TelemetryData holds all telemetry data of a scan.
type TelemetryData struct {
	// ScanID identifies the scan in log messages
	ScanID string `json:"scan_id"`

	// ArchiveType is the type of the scanned input, e.g. zip or gz
	ArchiveType string `json:"archive_type"`

	// ConsumedSize is the number of compressed bytes the decoders consumed
	ConsumedSize int64 `json:"consumed_size"`

	// Detected is true if the input was classified as bomb
	Detected bool `json:"detected"`

	// DetectionReason is the kind of the detection, empty if nothing was detected
	DetectionReason string `json:"detection_reason"`

	// EntriesScanned is the number of entries that have been seen
	EntriesScanned int64 `json:"entries_scanned"`

	// InflatedSize is the number of decompressed bytes
	InflatedSize int64 `json:"inflated_size"`

	// InputSize is the size of the input
	InputSize int64 `json:"input_size"`

	// LastScanError is the error that ended the scan
	LastScanError error `json:"last_scan_error"`

	// ScanDuration is the time it took to scan the input
	ScanDuration time.Duration `json:"scan_duration"`
}

// String returns a string representation of [TelemetryData].
func (td TelemetryData) String() string {
	b, _ := json.Marshal(td)
	return string(b)
}

// MarshalJSON implements the [encoding/json.Marshaler] interface.
func (td TelemetryData) MarshalJSON() ([]byte, error) {
	var lastError string
	if td.LastScanError != nil {
		lastError = td.LastScanError.Error()
	}

	type Alias TelemetryData
	return json.Marshal(&struct {
		LastScanError string `json:"last_scan_error"`
		*Alias
	}{
		LastScanError: lastError,
		Alias:         (*Alias)(&td),
	})
}

// TelemetryHook is a function type that performs operations on [TelemetryData]
// after a scan has finished which can be used to submit the [TelemetryData]
// to a telemetry service, for example.
type TelemetryHook func(context.Context, *TelemetryData)

// captureScanDuration captures the duration of the scan
func captureScanDuration(td *TelemetryData, start time.Time) {
	td.ScanDuration = now().Sub(start)
}

// captureStatistics adds the counts of a drained stream
func captureStatistics(td *TelemetryData, s Statistics) {
	td.InflatedSize += s.UncompressedCount()
	if n, err := s.CompressedCount(); err == nil {
		td.ConsumedSize += n
	}
}

// now is a function point that returns time.Now to the caller.
var now = time.Now
