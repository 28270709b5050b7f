package vfs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

type mountPoint struct {
	path string
	fs   Filesystem
}

// Core is the filesystem-independent VFS: the mount table, the inode
// cache, and path resolution across mount boundaries. One Core is shared
// kernel-wide; per-process open state lives in FileTable.
type Core struct {
	mu     ksync.RWMutex
	mounts []mountPoint
	cache  map[cacheKey]*inodeCacheEntry
}

type cacheKey struct {
	fs    Filesystem
	inode uint64
}

func NewCore() *Core {
	return &Core{cache: make(map[cacheKey]*inodeCacheEntry)}
}

// Mount attaches fs at path, which must already exist as a directory
// reachable through previously mounted filesystems (or be "/" for the
// very first mount). Mount points are matched longest-prefix-first, so
// nested mounts shadow their parent correctly.
func (c *Core) Mount(path string, fs Filesystem) error {
	canon, err := Canonicalize(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.mounts) == 0 && canon != "/" {
		return fmt.Errorf("vfs: first mount must be at \"/\", got %q", canon)
	}
	for _, m := range c.mounts {
		if m.path == canon {
			return kernelerr.New(kernelerr.EBUSY)
		}
	}
	c.mounts = append(c.mounts, mountPoint{path: canon, fs: fs})
	sort.Slice(c.mounts, func(i, j int) bool {
		return len(c.mounts[i].path) > len(c.mounts[j].path)
	})
	return nil
}

// Unmount detaches the filesystem mounted exactly at path.
func (c *Core) Unmount(path string) error {
	canon, err := Canonicalize(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.mounts {
		if m.path == canon {
			c.mounts = append(c.mounts[:i], c.mounts[i+1:]...)
			return nil
		}
	}
	return kernelerr.New(kernelerr.EINVAL)
}

// resolveMount finds the filesystem governing path and the path remainder
// relative to that filesystem's own root.
func (c *Core) resolveMount(path string) (Filesystem, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.mounts {
		if m.path == "/" {
			return m.fs, path, nil
		}
		if path == m.path {
			return m.fs, "/", nil
		}
		if strings.HasPrefix(path, m.path+"/") {
			return m.fs, path[len(m.path):], nil
		}
	}
	return nil, "", kernelerr.New(kernelerr.ENOENT)
}

// Resolve walks path component by component from the appropriate mounted
// filesystem's root, returning the owning Filesystem and the inode number
// the final component resolved to.
func (c *Core) Resolve(path string) (Filesystem, uint64, error) {
	canon, err := Canonicalize(path)
	if err != nil {
		return nil, 0, err
	}

	fs, rel, err := c.resolveMount(canon)
	if err != nil {
		return nil, 0, err
	}

	cur := fs.Root()
	if rel == "/" {
		return fs, cur, nil
	}
	for _, part := range strings.Split(strings.TrimPrefix(rel, "/"), "/") {
		next, err := fs.Lookup(cur, part)
		if err != nil {
			return nil, 0, err
		}
		cur = next
	}
	return fs, cur, nil
}

// Mkdir creates a directory at path, resolving its parent through the
// mount table the same way Open does.
func (c *Core) Mkdir(path string, mode uint32) error {
	canon, err := Canonicalize(path)
	if err != nil {
		return err
	}
	dir, name := Split(canon)
	fs, parent, err := c.Resolve(dir)
	if err != nil {
		return err
	}
	_, err = fs.Mkdir(parent, name, mode)
	return err
}

// Unlink removes the directory entry at path (not a directory).
func (c *Core) Unlink(path string) error {
	canon, err := Canonicalize(path)
	if err != nil {
		return err
	}
	dir, name := Split(canon)
	fs, parent, err := c.Resolve(dir)
	if err != nil {
		return err
	}
	return fs.Unlink(parent, name)
}

// Rmdir removes the empty directory at path.
func (c *Core) Rmdir(path string) error {
	canon, err := Canonicalize(path)
	if err != nil {
		return err
	}
	dir, name := Split(canon)
	fs, parent, err := c.Resolve(dir)
	if err != nil {
		return err
	}
	return fs.Rmdir(parent, name)
}

// ReadDir lists path's entries, resolving it through the mount table first.
func (c *Core) ReadDir(path string) ([]DirEntry, error) {
	fs, inode, err := c.Resolve(path)
	if err != nil {
		return nil, err
	}
	return fs.ReadDir(inode)
}

// Stat reports path's metadata without opening it, resolving it through
// the mount table first.
func (c *Core) Stat(path string) (Stat, error) {
	fs, inode, err := c.Resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return fs.Stat(inode)
}

// getOrCreateCacheEntry returns the shared cache entry for (fs, inode),
// bumping its refcount. Callers must call releaseCacheEntry when done.
func (c *Core) getOrCreateCacheEntry(fs Filesystem, inode uint64) *inodeCacheEntry {
	key := cacheKey{fs: fs, inode: inode}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[key]; ok {
		e.refs.Inc()
		return e
	}
	e := &inodeCacheEntry{fs: fs, inode: inode, refs: ksync.NewCounter(1)}
	c.cache[key] = e
	return e
}

func (c *Core) releaseCacheEntry(e *inodeCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs.Dec() == 0 {
		delete(c.cache, cacheKey{fs: e.fs, inode: e.inode})
	}
}

// CachedCount reports how many distinct inodes are currently cache-resident,
// for tests of the custody/cache lifecycle.
func (c *Core) CachedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
