package provider

import (
	"context"
	"errors"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Provider represents a browsable storage area, typically the burst buffer
// staging directory that is walked to discover files to drain.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)
}

// Mode selects how a FileAccessor opens a file.
type Mode int

const (
	// ModeRead opens an existing file for reading.
	ModeRead Mode = iota
	// ModeWrite creates the file, truncating any existing content.
	ModeWrite
	// ModeAppend creates the file if needed, keeps existing content and
	// positions the cursor at the end.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Handle is an opaque reference to a file opened by a FileAccessor.
type Handle int

// InvalidHandle is returned alongside an error when Open fails.
const InvalidHandle Handle = -1

var (
	// ErrBadHandle is returned when a handle is unknown to the accessor.
	ErrBadHandle = errors.New("bad file handle")
	// ErrUnsupportedSeek is returned for whence values an accessor cannot honour.
	ErrUnsupportedSeek = errors.New("unsupported seek")
)

// FileAccessor opens and caches file handles by name and performs the raw
// read, write and seek calls used by the drain engine.
//
// Handles are cached per name and direction: opening a name that is already
// open for writing returns the cached handle without truncating it again.
// Implementations are only ever called from a single goroutine.
type FileAccessor interface {
	// Open returns a handle for name. A non-nil error means no handle was
	// obtained and the returned handle is InvalidHandle.
	Open(name string, mode Mode) (Handle, error)

	// Read reads up to len(p) bytes at the handle's cursor.
	Read(h Handle, p []byte, name string) (int, error)

	// Write writes p at the handle's cursor.
	Write(h Handle, p []byte, name string) (int, error)

	// Seek moves the handle's cursor. whence follows io.SeekStart,
	// io.SeekCurrent and io.SeekEnd.
	Seek(h Handle, offset int64, whence int, name string) (int64, error)

	// CloseAll closes every handle opened by this accessor.
	CloseAll() error
}
