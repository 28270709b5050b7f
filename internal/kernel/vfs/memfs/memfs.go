// Package memfs is a minimal in-memory vfs.Filesystem, existing only to
// exercise the VFS core's mount table, traversal, inode cache, and custody
// logic end-to-end in tests — it is not a production filesystem, the way
// the teacher's internal/vfs/osdir.go (AbstractDir over a host directory)
// exists only to exercise its virtio-fs backend's interfaces.
package memfs

import (
	"time"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
)

type node struct {
	kind     vfs.NodeKind
	mode     uint32
	data     []byte
	children map[string]uint64
	modTime  time.Time
}

// FS is a simple in-memory filesystem keyed by sequential inode numbers
// starting at 1 (the root).
type FS struct {
	mu     ksync.Mutex
	nodes  map[uint64]*node
	nextID uint64
}

func New() *FS {
	fs := &FS{nodes: make(map[uint64]*node), nextID: 1}
	root := &node{kind: vfs.KindDirectory, mode: 0o755, children: make(map[string]uint64), modTime: epoch()}
	fs.nodes[1] = root
	return fs
}

func epoch() time.Time { return time.Unix(0, 0).UTC() }

func (f *FS) Root() uint64 { return 1 }

func (f *FS) Lookup(dir uint64, name string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.dirLocked(dir)
	if err != nil {
		return 0, err
	}
	id, ok := d.children[name]
	if !ok {
		return 0, kernelerr.New(kernelerr.ENOENT)
	}
	return id, nil
}

func (f *FS) dirLocked(inode uint64) (*node, error) {
	n, ok := f.nodes[inode]
	if !ok {
		return nil, kernelerr.New(kernelerr.ENOENT)
	}
	if n.kind != vfs.KindDirectory {
		return nil, kernelerr.New(kernelerr.ENOTDIR)
	}
	return n, nil
}

func (f *FS) Stat(inode uint64) (vfs.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[inode]
	if !ok {
		return vfs.Stat{}, kernelerr.New(kernelerr.ENOENT)
	}
	return vfs.Stat{
		Inode:   inode,
		Kind:    n.kind,
		Size:    int64(len(n.data)),
		Mode:    n.mode,
		ModTime: n.modTime,
		NLink:   1,
	}, nil
}

func (f *FS) ReadDir(dir uint64) ([]vfs.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.dirLocked(dir)
	if err != nil {
		return nil, err
	}
	out := make([]vfs.DirEntry, 0, len(d.children))
	for name, id := range d.children {
		out = append(out, vfs.DirEntry{Name: name, Inode: id, Kind: f.nodes[id].kind})
	}
	return out, nil
}

func (f *FS) create(dir uint64, name string, mode uint32, kind vfs.NodeKind) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.dirLocked(dir)
	if err != nil {
		return 0, err
	}
	if _, exists := d.children[name]; exists {
		return 0, kernelerr.New(kernelerr.EEXIST)
	}

	f.nextID++
	id := f.nextID
	n := &node{kind: kind, mode: mode, modTime: epoch()}
	if kind == vfs.KindDirectory {
		n.children = make(map[string]uint64)
	}
	f.nodes[id] = n
	d.children[name] = id
	return id, nil
}

func (f *FS) Create(dir uint64, name string, mode uint32) (uint64, error) {
	return f.create(dir, name, mode, vfs.KindRegular)
}

func (f *FS) Mkdir(dir uint64, name string, mode uint32) (uint64, error) {
	return f.create(dir, name, mode, vfs.KindDirectory)
}

func (f *FS) Unlink(dir uint64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.dirLocked(dir)
	if err != nil {
		return err
	}
	id, ok := d.children[name]
	if !ok {
		return kernelerr.New(kernelerr.ENOENT)
	}
	if f.nodes[id].kind == vfs.KindDirectory {
		return kernelerr.New(kernelerr.EISDIR)
	}
	delete(d.children, name)
	delete(f.nodes, id)
	return nil
}

func (f *FS) Rmdir(dir uint64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, err := f.dirLocked(dir)
	if err != nil {
		return err
	}
	id, ok := d.children[name]
	if !ok {
		return kernelerr.New(kernelerr.ENOENT)
	}
	target := f.nodes[id]
	if target.kind != vfs.KindDirectory {
		return kernelerr.New(kernelerr.ENOTDIR)
	}
	if len(target.children) > 0 {
		return kernelerr.New(kernelerr.ENOTEMPTY)
	}
	delete(d.children, name)
	delete(f.nodes, id)
	return nil
}

func (f *FS) Read(inode uint64, offset int64, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[inode]
	if !ok {
		return 0, kernelerr.New(kernelerr.ENOENT)
	}
	if offset >= int64(len(n.data)) {
		return 0, nil
	}
	copied := copy(buf, n.data[offset:])
	return copied, nil
}

func (f *FS) Write(inode uint64, offset int64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[inode]
	if !ok {
		return 0, kernelerr.New(kernelerr.ENOENT)
	}
	end := offset + int64(len(data))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:], data)
	n.modTime = epoch()
	return len(data), nil
}

func (f *FS) Truncate(inode uint64, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[inode]
	if !ok {
		return kernelerr.New(kernelerr.ENOENT)
	}
	if size < 0 {
		return kernelerr.New(kernelerr.EINVAL)
	}
	if int64(len(n.data)) == size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, n.data)
	n.data = grown
	return nil
}

var _ vfs.Filesystem = (*FS)(nil)
