package vfs_test

import (
	"errors"
	"testing"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs/memfs"
)

func TestMountRequiresRootFirst(t *testing.T) {
	core := vfs.NewCore()
	if err := core.Mount("/mnt", memfs.New()); err == nil {
		t.Fatalf("expected mounting before root exists to fail")
	}
}

func TestResolveTraversesNestedDirectories(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)

	dir, err := fs.Mkdir(fs.Root(), "etc", 0o755)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := fs.Create(dir, "hosts", 0o644); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, inode, err := core.Resolve("/etc/hosts")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inode == 0 {
		t.Fatalf("expected a non-zero inode")
	}
}

func TestResolveMissingPathIsENOENT(t *testing.T) {
	core := vfs.NewCore()
	core.Mount("/", memfs.New())

	_, _, err := core.Resolve("/nope")
	if !errors.Is(err, kernelerr.Sentinel(kernelerr.ENOENT)) {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestNestedMountShadowsParent(t *testing.T) {
	core := vfs.NewCore()
	root := memfs.New()
	core.Mount("/", root)
	root.Mkdir(root.Root(), "mnt", 0o755)

	sub := memfs.New()
	if err := core.Mount("/mnt", sub); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	sub.Create(sub.Root(), "marker", 0o644)

	fs, inode, err := core.Resolve("/mnt/marker")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fs != vfs.Filesystem(sub) {
		t.Fatalf("expected resolution to land in the nested mount's filesystem")
	}
	_ = inode
}

func TestOpenReadWriteRoundTrip(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)
	fs.Create(fs.Root(), "greeting", 0o644)

	f, err := core.Open("/greeting")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Write([]byte("hi there")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Seek(0, 0)

	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hi there" {
		t.Fatalf("Read = %q, want %q", buf[:n], "hi there")
	}
	f.Close()
}

func TestCacheEntryReleasedWhenLastHandleCloses(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)
	fs.Create(fs.Root(), "f", 0o644)

	f1, _ := core.Open("/f")
	f2, _ := core.Open("/f")

	if got := core.CachedCount(); got != 1 {
		t.Fatalf("CachedCount() = %d, want 1 (shared cache entry)", got)
	}

	f1.Close()
	if got := core.CachedCount(); got != 1 {
		t.Fatalf("CachedCount() after first close = %d, want 1 (still referenced)", got)
	}
	f2.Close()
	if got := core.CachedCount(); got != 0 {
		t.Fatalf("CachedCount() after both close = %d, want 0", got)
	}
}

func TestFileTableDup2ClosesPreviousOccupant(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)
	fs.Create(fs.Root(), "a", 0o644)
	fs.Create(fs.Root(), "b", 0o644)

	table := vfs.NewFileTable()
	fa, _ := core.Open("/a")
	fb, _ := core.Open("/b")
	fdA := table.Install(fa)
	fdB := table.Install(fb)

	if err := table.Dup2(fdA, fdB); err != nil {
		t.Fatalf("Dup2: %v", err)
	}

	got, err := table.Get(fdB)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	st, _ := got.Stat()
	wantSt, _ := fa.Stat()
	if st.Inode != wantSt.Inode {
		t.Fatalf("fd %d now points at a different inode than fd %d", fdB, fdA)
	}
}

func TestCoreMkdirRmdirUnlink(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)

	if err := core.Mkdir("/etc", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	st, err := core.Stat("/etc")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Kind != vfs.KindDirectory {
		t.Fatalf("Kind = %v, want KindDirectory", st.Kind)
	}

	etc, err := fs.Mkdir(fs.Root(), "hosts-dir", 0o755)
	_ = etc
	if err != nil {
		t.Fatalf("Mkdir via fs: %v", err)
	}

	entries, err := core.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ReadDir(\"/\") = %d entries, want 2", len(entries))
	}

	if err := core.Rmdir("/etc"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if _, err := core.Stat("/etc"); !errors.Is(err, kernelerr.Sentinel(kernelerr.ENOENT)) {
		t.Fatalf("expected removed directory to be gone, got %v", err)
	}
}

func TestCoreUnlinkRemovesFile(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)
	fs.Create(fs.Root(), "doomed", 0o644)

	if err := core.Unlink("/doomed"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := core.Open("/doomed"); !errors.Is(err, kernelerr.Sentinel(kernelerr.ENOENT)) {
		t.Fatalf("expected unlinked file to be gone, got %v", err)
	}
}

func TestFileTableForkSharesHandles(t *testing.T) {
	core := vfs.NewCore()
	fs := memfs.New()
	core.Mount("/", fs)
	fs.Create(fs.Root(), "shared", 0o644)

	table := vfs.NewFileTable()
	f, _ := core.Open("/shared")
	fd := table.Install(f)

	child := table.Fork()
	childFile, err := child.Get(fd)
	if err != nil {
		t.Fatalf("Get in forked table: %v", err)
	}

	if _, err := childFile.Write([]byte("x")); err != nil {
		t.Fatalf("Write via forked handle: %v", err)
	}
}
