package provider

import (
	"errors"
	"fmt"
)

// ensure interface is implemented
var _ FileAccessor = (*SplitAccessor)(nil)

type routedHandle struct {
	target FileAccessor
	inner  Handle
}

// SplitAccessor routes read opens to one accessor and write or append opens
// to another, so a drainer can read the local burst buffer while writing to
// backing storage.
type SplitAccessor struct {
	read  FileAccessor
	write FileAccessor

	routes map[Handle]routedHandle
	byKey  map[handleKey]Handle
	next   Handle
}

// Split returns a FileAccessor that reads through read and writes through write.
func Split(read, write FileAccessor) *SplitAccessor {
	return &SplitAccessor{
		read:   read,
		write:  write,
		routes: make(map[Handle]routedHandle),
		byKey:  make(map[handleKey]Handle),
	}
}

func (s *SplitAccessor) Open(name string, mode Mode) (Handle, error) {
	key := handleKey{name: name, write: mode != ModeRead}
	if h, ok := s.byKey[key]; ok {
		return h, nil
	}

	target := s.read
	if key.write {
		target = s.write
	}
	inner, err := target.Open(name, mode)
	if err != nil {
		return InvalidHandle, err
	}

	h := s.next
	s.next++
	s.routes[h] = routedHandle{target: target, inner: inner}
	s.byKey[key] = h
	return h, nil
}

func (s *SplitAccessor) route(h Handle, name string) (routedHandle, error) {
	r, ok := s.routes[h]
	if !ok {
		return routedHandle{}, fmt.Errorf("%s: %w", name, ErrBadHandle)
	}
	return r, nil
}

func (s *SplitAccessor) Read(h Handle, p []byte, name string) (int, error) {
	r, err := s.route(h, name)
	if err != nil {
		return 0, err
	}
	return r.target.Read(r.inner, p, name)
}

func (s *SplitAccessor) Write(h Handle, p []byte, name string) (int, error) {
	r, err := s.route(h, name)
	if err != nil {
		return 0, err
	}
	return r.target.Write(r.inner, p, name)
}

func (s *SplitAccessor) Seek(h Handle, offset int64, whence int, name string) (int64, error) {
	r, err := s.route(h, name)
	if err != nil {
		return 0, err
	}
	return r.target.Seek(r.inner, offset, whence, name)
}

// CloseAll closes both underlying accessors.
func (s *SplitAccessor) CloseAll() error {
	clear(s.routes)
	clear(s.byKey)
	return errors.Join(s.read.CloseAll(), s.write.CloseAll())
}
