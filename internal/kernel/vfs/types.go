// Package vfs implements the kernel's filesystem-independent core: path
// canonicalization, a mount table, an inode cache, per-process file
// custody, and the stable error surface every concrete filesystem is
// expected to map into. Grounded on the teacher's internal/vfs/backend.go
// (fsNode bookkeeping: parent/mode/size/entries/openRefs/nlink) and
// internal/vfs/osdir.go (AbstractDir/AbstractFile as the seam a concrete
// backend plugs into), generalized from a single virtio-fs/host-directory
// backend into a registry of mountable Filesystem implementations.
package vfs

import (
	"time"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

// NodeKind distinguishes the handful of file types the core understands.
type NodeKind int

const (
	KindRegular NodeKind = iota
	KindDirectory
	KindSymlink
	KindFIFO
)

// Stat is the metadata every Filesystem must be able to report for a node,
// independent of backend-specific extras (xattrs, ACLs — out of scope
// here, concrete filesystems are out of scope per the base design).
type Stat struct {
	Inode   uint64
	Kind    NodeKind
	Size    int64
	Mode    uint32
	ModTime time.Time
	NLink   uint32
}

// DirEntry is one entry returned while iterating a directory.
type DirEntry struct {
	Name  string
	Inode uint64
	Kind  NodeKind
}

// Filesystem is the contract a concrete backend implements; the core never
// touches storage directly. Every method takes an inode number the
// filesystem itself assigned (via Lookup/Create/Mkdir) and is otherwise
// opaque to the core, the way the teacher's AbstractFile/AbstractDir
// interfaces hide virtio-fs-specific bookkeeping behind opaque handles.
type Filesystem interface {
	Root() uint64
	Lookup(dir uint64, name string) (uint64, error)
	Stat(inode uint64) (Stat, error)
	ReadDir(dir uint64) ([]DirEntry, error)
	Create(dir uint64, name string, mode uint32) (uint64, error)
	Mkdir(dir uint64, name string, mode uint32) (uint64, error)
	Unlink(dir uint64, name string) error
	Rmdir(dir uint64, name string) error
	Read(inode uint64, offset int64, buf []byte) (int, error)
	Write(inode uint64, offset int64, data []byte) (int, error)
	Truncate(inode uint64, size int64) error
}

// inodeCacheEntry is the core's own bookkeeping per cached inode, shared
// across every open File handle referencing it.
type inodeCacheEntry struct {
	fs    Filesystem
	inode uint64
	refs  *ksync.Counter
}
