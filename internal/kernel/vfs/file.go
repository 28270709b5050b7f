package vfs

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/pipe"
)

// FD is a per-process file descriptor number.
type FD int32

// pipeEnd marks a File as one direction of an anonymous pipe rather than
// an inode-backed handle. Grounded on the original kernel's pipe.cpp,
// which gives a pipe end the same File struct as a regular file (fs=NULL,
// an opaque PipeBuffer pointer, and read/write left null depending on
// direction) instead of a separate descriptor kind.
type pipeEnd struct {
	p       *pipe.Pipe
	reading bool
}

// File is an open file handle: a position into a cached inode, shared
// between every FD that refers to it (e.g. after dup), refcounted
// independently from the inode cache entry it points at. A File may
// instead be one end of an anonymous pipe, in which case entry is nil and
// every operation is dispatched to pipeEnd.
type File struct {
	core   *Core
	entry  *inodeCacheEntry
	pipe   *pipeEnd
	offset int64
	refs   *ksync.Counter
}

// Open resolves path and returns a new File handle backed by the owning
// filesystem's inode, with its own refcount starting at 1.
func (c *Core) Open(path string) (*File, error) {
	fs, inode, err := c.Resolve(path)
	if err != nil {
		return nil, err
	}
	entry := c.getOrCreateCacheEntry(fs, inode)
	return &File{core: c, entry: entry, refs: ksync.NewCounter(1)}, nil
}

// NewPipeFile wraps one end of p as a File, reading selecting the read end
// versus the write end, so pipes can be installed into a FileTable and
// read/written through the same syscalls as any other descriptor.
func NewPipeFile(p *pipe.Pipe, reading bool) *File {
	return &File{pipe: &pipeEnd{p: p, reading: reading}, refs: ksync.NewCounter(1)}
}

// Dup increments the File's refcount and returns the same handle, modeling
// how dup()/fork() share one open file description across descriptors.
func (f *File) Dup() *File {
	f.refs.Inc()
	return f
}

// Close drops a reference; once it reaches zero the underlying inode cache
// entry is released, or the owning pipe end is closed.
func (f *File) Close() {
	if f.refs.Dec() != 0 {
		return
	}
	if f.pipe != nil {
		if f.pipe.reading {
			f.pipe.p.CloseReader()
		} else {
			f.pipe.p.CloseWriter()
		}
		return
	}
	f.core.releaseCacheEntry(f.entry)
}

func (f *File) Read(buf []byte) (int, error) {
	if f.pipe != nil {
		if !f.pipe.reading {
			return 0, kernelerr.New(kernelerr.EBADF)
		}
		return f.pipe.p.Read(buf)
	}
	n, err := f.entry.fs.Read(f.entry.inode, f.offset, buf)
	if err != nil {
		return 0, err
	}
	f.offset += int64(n)
	return n, nil
}

func (f *File) Write(data []byte) (int, error) {
	if f.pipe != nil {
		if f.pipe.reading {
			return 0, kernelerr.New(kernelerr.EBADF)
		}
		return f.pipe.p.Write(data)
	}
	n, err := f.entry.fs.Write(f.entry.inode, f.offset, data)
	if err != nil {
		return 0, err
	}
	f.offset += int64(n)
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.pipe != nil {
		return 0, kernelerr.New(kernelerr.EINVAL)
	}
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = f.offset
	case 2:
		st, err := f.entry.fs.Stat(f.entry.inode)
		if err != nil {
			return 0, err
		}
		base = st.Size
	default:
		return 0, kernelerr.New(kernelerr.EINVAL)
	}
	newOffset := base + offset
	if newOffset < 0 {
		return 0, kernelerr.New(kernelerr.EINVAL)
	}
	f.offset = newOffset
	return newOffset, nil
}

func (f *File) Stat() (Stat, error) {
	if f.pipe != nil {
		return Stat{Kind: KindFIFO, Size: int64(f.pipe.p.Buffered())}, nil
	}
	return f.entry.fs.Stat(f.entry.inode)
}

// FileTable is a process' per-FD table, allocating the lowest unused FD
// number the way POSIX open()/dup() require.
type FileTable struct {
	mu    ksync.Mutex
	files map[FD]*File
	next  FD
}

func NewFileTable() *FileTable {
	return &FileTable{files: make(map[FD]*File)}
}

// Install assigns the lowest free FD to f and returns it.
func (t *FileTable) Install(f *File) FD {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd := FD(0); ; fd++ {
		if _, used := t.files[fd]; !used {
			t.files[fd] = f
			if fd >= t.next {
				t.next = fd + 1
			}
			return fd
		}
	}
}

func (t *FileTable) Get(fd FD) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, kernelerr.New(kernelerr.EBADF)
	}
	return f, nil
}

func (t *FileTable) CloseFD(fd FD) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	if !ok {
		t.mu.Unlock()
		return kernelerr.New(kernelerr.EBADF)
	}
	delete(t.files, fd)
	t.mu.Unlock()
	f.Close()
	return nil
}

// Dup2 duplicates oldFD onto newFD, closing whatever newFD previously
// referred to first, matching dup2(2) semantics.
func (t *FileTable) Dup2(oldFD, newFD FD) error {
	t.mu.Lock()
	old, ok := t.files[oldFD]
	if !ok {
		t.mu.Unlock()
		return kernelerr.New(kernelerr.EBADF)
	}
	existing, hadExisting := t.files[newFD]
	t.files[newFD] = old.Dup()
	t.mu.Unlock()

	if hadExisting {
		existing.Close()
	}
	return nil
}

// Fork duplicates every open FD into a new FileTable sharing the same File
// handles (bumping their refcounts), the way fork() shares open file
// descriptions between parent and child.
func (t *FileTable) Fork() *FileTable {
	t.mu.Lock()
	defer t.mu.Unlock()

	clone := NewFileTable()
	clone.next = t.next
	for fd, f := range t.files {
		clone.files[fd] = f.Dup()
	}
	return clone
}

func (t *FileTable) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("FileTable{%d open}", len(t.files))
}
