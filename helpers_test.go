// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package zipguard_test

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// testEntry is an entry of a generated test archive
type testEntry struct {
	name    string
	method  uint16
	content []byte
}

// createTestZip creates a zip archive in memory with the given entries
func createTestZip(t *testing.T, entries ...testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: e.method})
		if err != nil {
			t.Fatalf("error creating zip entry: %v", err)
		}
		if _, err := w.Write(e.content); err != nil {
			t.Fatalf("error writing zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("error closing zip writer: %v", err)
	}
	return buf.Bytes()
}

// createTestZipFile writes a zip archive with the given entries to a temp dir
func createTestZipFile(t *testing.T, entries ...testEntry) string {
	t.Helper()
	return writeTestFile(t, "test.zip", createTestZip(t, entries...))
}

// writeTestFile writes data to a file in a temp dir and returns its path
func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("error writing test file: %v", err)
	}
	return path
}

// zstdCompressor is the zip compressor of method 93
func zstdCompressor(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// xzCompressor is the zip compressor of method 95
func xzCompressor(w io.Writer) (io.WriteCloser, error) {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return xw, nil
}

// zeros returns n zero bytes, which compress extremely well
func zeros(n int) []byte {
	return make([]byte, n)
}

// randomBytes returns n pseudo random bytes, which do not compress at all
func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(b)
	return b
}

// loremIpsum returns n bytes of text, which compress like regular documents
func loremIpsum(n int) []byte {
	words := bytes.Fields([]byte("lorem ipsum dolor sit amet consectetur adipiscing elit sed do eiusmod tempor incididunt ut labore et dolore magna aliqua"))
	r := rand.New(rand.NewSource(7))
	var buf bytes.Buffer
	for buf.Len() < n {
		buf.Write(words[r.Intn(len(words))])
		buf.WriteByte(' ')
	}
	return buf.Bytes()[:n]
}

// fakeStream is a decompressing stream with a fixed compressed count
type fakeStream struct {
	r          io.Reader
	compressed int64
	produced   int64
	closed     bool
}

func newFakeStream(payload []byte, compressed int64) *fakeStream {
	return &fakeStream{r: bytes.NewReader(payload), compressed: compressed}
}

func (f *fakeStream) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.produced += int64(n)
	return n, err
}

func (f *fakeStream) CompressedCount() (int64, error) {
	return f.compressed, nil
}

func (f *fakeStream) UncompressedCount() int64 {
	return f.produced
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}
