package engine

import (
	"hash"
	"hash/crc64"
	"io"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// NewChecksum returns a CRC-64 (ISO) hasher. The worker feeds it every byte
// it successfully writes for an operation and journals the result.
func NewChecksum() hash.Hash64 {
	return crc64.New(crcTable)
}

// Checksum returns the CRC-64 (ISO) of data, as journaled for a write of data.
func Checksum(data []byte) uint64 {
	return crc64.Checksum(data, crcTable)
}

// ChecksumReader computes the CRC-64 (ISO) of everything read from r and
// returns it with the number of bytes consumed. Verify uses it to re-read
// journaled writes.
func ChecksumReader(r io.Reader) (uint64, int64, error) {
	h := NewChecksum()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, err
	}
	return h.Sum64(), n, nil
}
