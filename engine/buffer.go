package engine

// DefaultBufferSize is the default size of the worker's transfer buffer.
// 1MB is generally a good balance for modern fast I/O operations (network/disk).
const DefaultBufferSize = 1 * 1024 * 1024

// SplitChunks decomposes a transfer of count bytes into full chunks of
// bufferSize bytes plus a trailing remainder chunk, which is zero when count
// is a multiple of bufferSize.
func SplitChunks(count int64, bufferSize int) (full int64, remainder int64) {
	if count <= 0 || bufferSize <= 0 {
		return 0, 0
	}
	b := int64(bufferSize)
	return count / b, count % b
}
