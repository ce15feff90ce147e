package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{basePath: basePath}
}

func resolve(basePath, path string) string {
	if basePath == "" {
		return path
	}
	return filepath.Join(basePath, filepath.Clean(path))
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(resolve(p.basePath, path))
	if err != nil {
		return nil, err
	}

	return WrapOSFileInfo(info), nil
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(resolve(p.basePath, path))
	if err != nil {
		return nil, err
	}

	var infos []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		infos = append(infos, WrapOSFileInfo(info))
	}
	return infos, nil
}

// ensure interface is implemented
var _ FileAccessor = (*LocalAccessor)(nil)

// handleKey identifies a cached handle. Reads and writes of the same name get
// separate handles so a file can be both drained from and appended to.
type handleKey struct {
	name  string
	write bool
}

// LocalAccessor is a FileAccessor backed by os.File.
type LocalAccessor struct {
	basePath string
	perm     os.FileMode

	handles map[handleKey]Handle
	files   map[Handle]*os.File
	next    Handle
}

// NewLocalAccessor creates a LocalAccessor that resolves names under basePath.
// If basePath is empty, names are used as given.
func NewLocalAccessor(basePath string) *LocalAccessor {
	return &LocalAccessor{
		basePath: basePath,
		perm:     0644,
		handles:  make(map[handleKey]Handle),
		files:    make(map[Handle]*os.File),
	}
}

// Open opens name or returns its cached handle.
func (a *LocalAccessor) Open(name string, mode Mode) (Handle, error) {
	key := handleKey{name: name, write: mode != ModeRead}
	if h, ok := a.handles[key]; ok {
		return h, nil
	}

	fullPath := resolve(a.basePath, name)

	var (
		f   *os.File
		err error
	)
	switch mode {
	case ModeRead:
		f, err = os.Open(fullPath)
	case ModeWrite, ModeAppend:
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return InvalidHandle, fmt.Errorf("failed to create parent of %s: %w", name, err)
		}
		flags := os.O_CREATE | os.O_WRONLY
		if mode == ModeWrite {
			flags |= os.O_TRUNC
		}
		f, err = os.OpenFile(fullPath, flags, a.perm)
		if err == nil && mode == ModeAppend {
			if _, err = f.Seek(0, io.SeekEnd); err != nil {
				f.Close()
			}
		}
	default:
		return InvalidHandle, fmt.Errorf("failed to open %s: unknown mode %d", name, mode)
	}
	if err != nil {
		return InvalidHandle, fmt.Errorf("failed to open %s for %s: %w", name, mode, err)
	}

	h := a.next
	a.next++
	a.handles[key] = h
	a.files[h] = f
	return h, nil
}

func (a *LocalAccessor) file(h Handle, name string) (*os.File, error) {
	f, ok := a.files[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrBadHandle)
	}
	return f, nil
}

// Read fills p from the handle's cursor. It only returns fewer than len(p)
// bytes together with an error.
func (a *LocalAccessor) Read(h Handle, p []byte, name string) (int, error) {
	f, err := a.file(h, name)
	if err != nil {
		return 0, err
	}
	n, err := io.ReadFull(f, p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, fmt.Errorf("failed to read %d bytes from %s: %w", len(p), name, err)
	}
	return n, nil
}

// Write writes p at the handle's cursor.
func (a *LocalAccessor) Write(h Handle, p []byte, name string) (int, error) {
	f, err := a.file(h, name)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write %d bytes to %s: %w", len(p), name, err)
	}
	return n, nil
}

// Seek moves the handle's cursor.
func (a *LocalAccessor) Seek(h Handle, offset int64, whence int, name string) (int64, error) {
	f, err := a.file(h, name)
	if err != nil {
		return 0, err
	}
	pos, err := f.Seek(offset, whence)
	if err != nil {
		return pos, fmt.Errorf("failed to seek %s to %d: %w", name, offset, err)
	}
	return pos, nil
}

// CloseAll closes every open file and forgets the cached handles. The first
// close error is returned after all files have been closed.
func (a *LocalAccessor) CloseAll() error {
	var firstErr error
	for h, f := range a.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", f.Name(), err)
		}
		delete(a.files, h)
	}
	clear(a.handles)
	return firstErr
}
