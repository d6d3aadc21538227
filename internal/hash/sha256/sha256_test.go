// Package sha256 includes tests for the image fingerprint helpers.
package sha256

import (
	"bytes"
	"io"
	"testing"
)

const helloDigest = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

// TestReaderHashesWhatPassesThrough checks the digest of the bytes read.
func TestReaderHashesWhatPassesThrough(t *testing.T) {
	t.Parallel()

	r := NewReader(bytes.NewReader([]byte("hello world")))
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(out) != "hello world" {
		t.Fatalf("reader altered data: %q", out)
	}
	if r.Sum() != helloDigest {
		t.Fatalf("expected %s, got %s", helloDigest, r.Sum())
	}
	again := NewReader(bytes.NewReader([]byte("hello world")))
	if _, err := io.Copy(io.Discard, again); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if again.Sum() != r.Sum() {
		t.Fatalf("expected deterministic digest, got %s vs %s", again.Sum(), r.Sum())
	}
	if r.Len() != 11 {
		t.Fatalf("expected 11 bytes, got %d", r.Len())
	}
}
