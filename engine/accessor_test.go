package engine

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/franksops/bbdrain/provider"
)

type memKey struct {
	name  string
	write bool
}

type memHandle struct {
	name string
	pos  int64
}

// memAccessor is an in-memory FileAccessor that records the size of every
// read and write call and can be told to fail or panic on given names.
type memAccessor struct {
	mu sync.Mutex

	files   map[string][]byte
	cache   map[memKey]provider.Handle
	handles map[provider.Handle]*memHandle
	next    provider.Handle

	reads  []int
	writes []int
	opens  []string

	failOpen  map[string]bool
	failWrite map[string]bool
	failSeek  map[string]bool
	panicOn   map[string]bool
	closed    int

	// hold blocks Open of a name until the channel is closed; entered is
	// signalled when Open starts waiting.
	hold    map[string]chan struct{}
	entered chan string
}

func newMemAccessor() *memAccessor {
	return &memAccessor{
		files:     make(map[string][]byte),
		cache:     make(map[memKey]provider.Handle),
		handles:   make(map[provider.Handle]*memHandle),
		failOpen:  make(map[string]bool),
		failWrite: make(map[string]bool),
		failSeek:  make(map[string]bool),
		panicOn:   make(map[string]bool),
		hold:      make(map[string]chan struct{}),
		entered:   make(chan string, 1),
	}
}

func (a *memAccessor) put(name string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[name] = data
}

func (a *memAccessor) file(name string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[name]
	return data, ok
}

// holdOpen makes the next Open of name block until the returned func is called.
func (a *memAccessor) holdOpen(name string) (release func()) {
	ch := make(chan struct{})
	a.mu.Lock()
	a.hold[name] = ch
	a.mu.Unlock()
	return func() { close(ch) }
}

func (a *memAccessor) Open(name string, mode provider.Mode) (provider.Handle, error) {
	a.mu.Lock()
	ch := a.hold[name]
	delete(a.hold, name)
	a.mu.Unlock()
	if ch != nil {
		a.entered <- name
		<-ch
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.opens = append(a.opens, fmt.Sprintf("%s:%s", mode, name))
	if a.failOpen[name] {
		return provider.InvalidHandle, errors.New("open refused")
	}

	key := memKey{name: name, write: mode != provider.ModeRead}
	if h, ok := a.cache[key]; ok {
		return h, nil
	}

	mh := &memHandle{name: name}
	switch mode {
	case provider.ModeRead:
		if _, ok := a.files[name]; !ok {
			return provider.InvalidHandle, fmt.Errorf("%s: no such file", name)
		}
	case provider.ModeWrite:
		a.files[name] = nil
	case provider.ModeAppend:
		mh.pos = int64(len(a.files[name]))
		if _, ok := a.files[name]; !ok {
			a.files[name] = nil
		}
	}

	h := a.next
	a.next++
	a.cache[key] = h
	a.handles[h] = mh
	return h, nil
}

func (a *memAccessor) Read(h provider.Handle, p []byte, name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.panicOn[name] {
		panic("read exploded")
	}
	a.reads = append(a.reads, len(p))
	mh, ok := a.handles[h]
	if !ok {
		return 0, provider.ErrBadHandle
	}
	data := a.files[mh.name]
	if mh.pos >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[mh.pos:])
	mh.pos += int64(n)
	return n, nil
}

func (a *memAccessor) Write(h provider.Handle, p []byte, name string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.panicOn[name] {
		panic("write exploded")
	}
	a.writes = append(a.writes, len(p))
	if a.failWrite[name] {
		return 0, errors.New("disk full")
	}
	mh, ok := a.handles[h]
	if !ok {
		return 0, provider.ErrBadHandle
	}
	data := a.files[mh.name]
	if end := mh.pos + int64(len(p)); end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[mh.pos:], p)
	a.files[mh.name] = data
	mh.pos += int64(len(p))
	return len(p), nil
}

func (a *memAccessor) Seek(h provider.Handle, offset int64, whence int, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failSeek[name] {
		return 0, errors.New("seek refused")
	}
	mh, ok := a.handles[h]
	if !ok {
		return 0, provider.ErrBadHandle
	}
	switch whence {
	case io.SeekStart:
		mh.pos = offset
	case io.SeekCurrent:
		mh.pos += offset
	case io.SeekEnd:
		mh.pos = int64(len(a.files[mh.name])) + offset
	default:
		return 0, provider.ErrUnsupportedSeek
	}
	return mh.pos, nil
}

func (a *memAccessor) CloseAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	a.cache = make(map[memKey]provider.Handle)
	a.handles = make(map[provider.Handle]*memHandle)
	return nil
}

func (a *memAccessor) readSizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.reads...)
}

func (a *memAccessor) writeSizes() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.writes...)
}
