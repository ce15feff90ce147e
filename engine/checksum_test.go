package engine

import (
	"bytes"
	"strings"
	"testing"
)

func TestChecksum_MatchesStreaming(t *testing.T) {
	data := []byte("test data for checksum consistency")

	h := NewChecksum()
	h.Write(data[:10])
	h.Write(data[10:])

	if got, want := h.Sum64(), Checksum(data); got != want {
		t.Errorf("Checksum mismatch: streaming=%d, oneshot=%d", got, want)
	}
	if Checksum(data) == 0 {
		t.Error("Expected non-zero checksum")
	}
}

func TestChecksumReader(t *testing.T) {
	data := []byte("hello world")

	sum, n, err := ChecksumReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ChecksumReader failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("Expected %d bytes read, got %d", len(data), n)
	}
	if sum != Checksum(data) {
		t.Errorf("Expected %d, got %d", Checksum(data), sum)
	}
}

func TestChecksum_ResetReuse(t *testing.T) {
	h := NewChecksum()
	h.Write([]byte(strings.Repeat("x", 100)))
	h.Reset()
	h.Write([]byte("test"))

	if h.Sum64() != Checksum([]byte("test")) {
		t.Error("Expected reset hasher to match a fresh checksum")
	}
}
