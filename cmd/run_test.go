// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestZip writes a zip archive with one deflated entry to dir
func createTestZip(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "data", Method: zip.Deflate})
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestCLI(archives ...string) *CLI {
	return &CLI{
		Archives:        archives,
		MaxEntries:      10000,
		MaxEntrySize:    4294967296,
		MaxInputSize:    1 << 30,
		MinInflateRatio: 0.0075,
		Parallel:        2,
		Telemetry:       true,
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	clean := createTestZip(t, dir, "clean.zip", []byte(strings.Repeat("hello world ", 10)))
	bomb := createTestZip(t, dir, "bomb.zip", make([]byte, 10<<20))
	broken := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(broken, []byte("not a zip"), 0o644))

	tests := []struct {
		name       string
		archives   []string
		expectCode int
		expectOut  []string
	}{
		{
			name:       "clean archive",
			archives:   []string{clean},
			expectCode: exitClean,
			expectOut:  []string{clean + ": ok (1 entries)"},
		},
		{
			name:       "bomb",
			archives:   []string{clean, bomb},
			expectCode: exitDetected,
			expectOut: []string{
				clean + ": ok (1 entries)",
				bomb + ": bomb: The file exceeded the maximum compression ratio allowed (data)",
			},
		},
		{
			name:       "error wins over bomb",
			archives:   []string{bomb, broken},
			expectCode: exitError,
			expectOut: []string{
				bomb + ": bomb: The file exceeded the maximum compression ratio allowed (data)",
				broken + ": error: scanning " + broken + " failed",
			},
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := newTestCLI(tt.archives...).Scan(context.Background(), strings.NewReader(""), &out, logger)
			assert.Equal(t, tt.expectCode, code)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, len(tt.expectOut))
			for i, expect := range tt.expectOut {
				assert.True(t, strings.HasPrefix(lines[i], expect), "line %d: %s", i, lines[i])
			}
		})
	}
}

func TestScanStdin(t *testing.T) {
	dir := t.TempDir()
	bomb, err := os.ReadFile(createTestZip(t, dir, "bomb.zip", make([]byte, 10<<20)))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cli := newTestCLI("-", "-")
	cli.CacheInMemory = true

	var out bytes.Buffer
	code := cli.Scan(context.Background(), bytes.NewReader(bomb), &out, logger)
	assert.Equal(t, exitError, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	detected := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "-: bomb:") {
			detected++
		} else {
			assert.Contains(t, line, "stdin can only be scanned once")
		}
	}
	assert.Equal(t, 1, detected)
}
