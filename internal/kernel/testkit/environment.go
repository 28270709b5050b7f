package testkit

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/pmm"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/timer"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs/memfs"
)

// Environment wires together a minimal, fully in-process kernel instance
// from a Scenario: a real buddy allocator over a fake RAM pool, a memfs
// root pre-populated with the scenario's file fixtures, and a scheduler
// running the reference FakeCPU, plus a tick clock — enough to exercise
// components B, F and H together without real hardware (no syscall
// dispatcher or process layer is wired in), the way
// the teacher's cmd/cc wires a VirtualCPU/Bus/device set from a config
// into one runnable instance.
type Environment struct {
	Scenario *Scenario
	Pages    *pmm.Allocator
	Clock    *timer.Clock
	VFS      *vfs.Core
	Sched    *sched.Scheduler
}

// Build constructs an Environment from s, mounting a memfs root populated
// with every declared file fixture.
func Build(s *Scenario) (*Environment, error) {
	nFrames := int(s.RAMBytes / pmm.PageSize)
	if nFrames == 0 {
		return nil, fmt.Errorf("testkit: scenario %q RAM too small for even one page", s.Name)
	}

	env := &Environment{
		Scenario: s,
		Pages:    pmm.New(0, nFrames),
		Clock:    timer.NewClock(),
		VFS:      vfs.NewCore(),
		Sched:    sched.New(&sched.FakeCPU{}),
	}

	root := memfs.New()
	if err := env.VFS.Mount("/", root); err != nil {
		return nil, fmt.Errorf("testkit: mount root: %w", err)
	}

	for _, f := range s.Files {
		if err := writeFixture(env.VFS, root, f); err != nil {
			return nil, err
		}
	}

	return env, nil
}

func writeFixture(core *vfs.Core, root *memfs.FS, f FileFixture) error {
	dir, name := vfs.Split(mustCanon(f.Path))
	_, dirInode, err := core.Resolve(dir)
	if err != nil {
		return fmt.Errorf("testkit: resolving directory for fixture %q: %w", f.Path, err)
	}
	inode, err := root.Create(dirInode, name, 0o644)
	if err != nil {
		return fmt.Errorf("testkit: creating fixture %q: %w", f.Path, err)
	}
	if _, err := root.Write(inode, 0, []byte(f.Contents)); err != nil {
		return fmt.Errorf("testkit: writing fixture %q: %w", f.Path, err)
	}
	return nil
}

func mustCanon(path string) string {
	c, err := vfs.Canonicalize(path)
	if err != nil {
		return "/"
	}
	return c
}
