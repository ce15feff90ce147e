package provider

import (
	"os"
	"syscall"
)

// UnixFileInfo extends FileInfo with Unix-specific metadata
type UnixFileInfo interface {
	FileInfo
	UID() uint32
	GID() uint32
	Mode() os.FileMode
}

// unixFileInfo wraps FileInfo to provide Unix-specific metadata
type unixFileInfo struct {
	FileInfo
	uid  uint32
	gid  uint32
	mode os.FileMode
}

func (u *unixFileInfo) UID() uint32       { return u.uid }
func (u *unixFileInfo) GID() uint32       { return u.gid }
func (u *unixFileInfo) Mode() os.FileMode { return u.mode }

// WrapOSFileInfo converts an os.FileInfo into a FileInfo, carrying Unix
// ownership and permissions when the platform exposes them.
func WrapOSFileInfo(info os.FileInfo) FileInfo {
	baseInfo := &localFileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		modTime: info.ModTime(),
	}

	fileStat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return baseInfo
	}

	return &unixFileInfo{
		FileInfo: baseInfo,
		uid:      fileStat.Uid,
		gid:      fileStat.Gid,
		mode:     info.Mode(),
	}
}

// Regular reports whether info describes something the drain walker should
// copy: not a directory and, when the mode is known, a regular file.
func Regular(info FileInfo) bool {
	if info.IsDir() {
		return false
	}
	if u, ok := info.(UnixFileInfo); ok {
		return u.Mode().IsRegular()
	}
	return true
}
