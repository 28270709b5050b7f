package boot

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/proc"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

// defaultUserStackTop is the fixed top-of-stack address every process gets,
// one 1 MiB section below the kernel half so it never collides with a
// section mapping there.
const defaultUserStackTop uint32 = vmm.KernelHalfBase - 0x00100000

// processEntry is the per-process bookkeeping this package owns on top of
// proc.Process: its file table and the single thread it runs (this core
// does not yet support more than one thread per process, matching the
// base design's scope).
type processEntry struct {
	process *proc.Process
	files   *vfs.FileTable
	thread  sched.ThreadID
	// name is argv[0] at the most recent spawn/execve, what
	// GetProcessInfo reports back to user space (api::ProcessInfo.name).
	name string
}

func (k *Kernel) allocPID() proc.PID {
	k.mu.Lock()
	defer k.mu.Unlock()
	pid := k.nextPID
	k.nextPID++
	return pid
}

// SpawnInit loads elfImage as a freshly executed program and schedules it
// as a brand-new process with no parent, the kernel's equivalent of
// starting the init process at the end of boot.
func (k *Kernel) SpawnInit(argv, envp []string, elfImage []byte) (proc.PID, error) {
	return k.spawn(nil, argv, envp, elfImage)
}

func (k *Kernel) spawn(parent *processEntry, argv, envp []string, elfImage []byte) (proc.PID, error) {
	image, err := proc.LoadELF32(elfImage)
	if err != nil {
		return 0, fmt.Errorf("boot: spawn: %w", err)
	}

	pid := k.allocPID()
	space := vmm.NewAddressSpaceSplit(k.pageSrc, k.KernelSpace)
	var parentProc *proc.Process
	if parent != nil {
		parentProc = parent.process
	}
	p := proc.NewProcess(pid, space, parentProc)

	entry, sp, err := proc.Execve(p, image, argv, envp, defaultUserStackTop,
		func(seg proc.Segment) error { return k.mapSegment(space, seg) },
		func(addr uint32, data []byte) error { return k.writeUser(space, addr, data, vmm.PermRead|vmm.PermWrite|vmm.PermUser) },
	)
	if err != nil {
		return 0, fmt.Errorf("boot: spawn: %w", err)
	}

	files := vfs.NewFileTable()
	if parent != nil {
		files = parent.files.Fork()
	}

	tid := sched.ThreadID(pid)
	if err := k.Sched.Spawn(tid, entry, sp); err != nil {
		return 0, fmt.Errorf("boot: spawn: %w", err)
	}

	k.mu.Lock()
	k.processes[pid] = &processEntry{process: p, files: files, thread: tid, name: argv0(argv)}
	k.threadPID[tid] = pid
	k.mu.Unlock()

	k.Log.Info("process spawned", "pid", pid, "argv", argv)
	return pid, nil
}

// argv0 returns the program name GetProcessInfo reports, the conventional
// leading argv entry, or "" if argv is empty.
func argv0(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}

// mapSegment maps every page an ELF PT_LOAD segment covers, copying its
// file content in (zero-filling the MemSize tail beyond FileSize, e.g.
// .bss) before dropping write permission for segments the image doesn't
// mark writable — the W^X enforcement load-then-protect sequence the
// vmm.Protect doc calls for.
func (k *Kernel) mapSegment(space *vmm.AddressSpace, seg proc.Segment) error {
	start := seg.VirtAddr &^ (vmm.PageSize - 1)
	end := seg.VirtAddr + seg.MemSize
	end = (end + vmm.PageSize - 1) &^ (vmm.PageSize - 1)

	for va := start; va < end; va += vmm.PageSize {
		phys, err := k.pageSrc.AllocPage()
		if err != nil {
			return err
		}
		if err := space.MapPage(va, phys, seg.Perm|vmm.PermWrite|vmm.PermUser); err != nil {
			return err
		}

		pageStart := va
		pageEnd := va + vmm.PageSize
		fileEnd := seg.VirtAddr + uint32(len(seg.FileData))
		if pageStart < fileEnd {
			copyEnd := pageEnd
			if copyEnd > fileEnd {
				copyEnd = fileEnd
			}
			srcOff := pageStart - seg.VirtAddr
			if pageStart < seg.VirtAddr {
				srcOff = 0
			}
			chunk := seg.FileData[srcOff : srcOff+(copyEnd-max(pageStart, seg.VirtAddr))]
			destOff := uint32(0)
			if pageStart < seg.VirtAddr {
				destOff = seg.VirtAddr - pageStart
			}
			if err := k.mem.writeAt(phys+destOff, chunk); err != nil {
				return err
			}
		}
	}

	if seg.Perm&vmm.PermWrite == 0 {
		for va := start; va < end; va += vmm.PageSize {
			if err := space.Protect(va, seg.Perm|vmm.PermUser); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeUser maps (if not already mapped) and writes data starting at addr,
// used to write execve's initial stack image.
func (k *Kernel) writeUser(space *vmm.AddressSpace, addr uint32, data []byte, perm vmm.Permission) error {
	start := addr &^ (vmm.PageSize - 1)
	end := addr + uint32(len(data))
	end = (end + vmm.PageSize - 1) &^ (vmm.PageSize - 1)

	for va := start; va < end; va += vmm.PageSize {
		if _, _, ok := space.Translate(va); !ok {
			phys, err := k.pageSrc.AllocPage()
			if err != nil {
				return err
			}
			if err := space.MapPage(va, phys, perm); err != nil {
				return err
			}
		}
	}

	return k.copyToUser(space, addr, data)
}

// copyToUser writes data into the physical pages addr already maps to.
func (k *Kernel) copyToUser(space *vmm.AddressSpace, addr uint32, data []byte) error {
	written := 0
	for written < len(data) {
		va := addr + uint32(written)
		phys, _, ok := space.Translate(va)
		if !ok {
			return kernelerr.New(kernelerr.EFAULT)
		}
		pageOff := va & (vmm.PageSize - 1)
		n := vmm.PageSize - pageOff
		if remaining := len(data) - written; uint32(remaining) < n {
			n = uint32(remaining)
		}
		if err := k.mem.writeAt(phys, data[written:written+int(n)]); err != nil {
			return err
		}
		written += int(n)
	}
	return nil
}

// copyFromUser reads len(dst) bytes starting at addr in space.
func (k *Kernel) copyFromUser(space *vmm.AddressSpace, dst []byte, addr uint32) error {
	read := 0
	for read < len(dst) {
		va := addr + uint32(read)
		phys, _, ok := space.Translate(va)
		if !ok {
			return kernelerr.New(kernelerr.EFAULT)
		}
		pageOff := va & (vmm.PageSize - 1)
		n := vmm.PageSize - pageOff
		if remaining := len(dst) - read; uint32(remaining) < n {
			n = uint32(remaining)
		}
		chunk, err := k.mem.readAt(phys, int(n))
		if err != nil {
			return err
		}
		copy(dst[read:read+int(n)], chunk)
		read += int(n)
	}
	return nil
}

// Fork duplicates the calling process (identified by its running thread)
// into a brand new child process sharing its open file descriptors,
// scheduling the child as ready, and returns the child's PID.
func (k *Kernel) Fork(callerThread sched.ThreadID) (proc.PID, error) {
	k.mu.Lock()
	parentPID, ok := k.threadPID[callerThread]
	if !ok {
		k.mu.Unlock()
		return 0, kernelerr.New(kernelerr.ESRCH)
	}
	parent := k.processes[parentPID]
	k.mu.Unlock()

	childPID := k.allocPID()
	child, err := proc.Fork(parent.process, childPID, k.pageSrc, k.mem.copyPage)
	if err != nil {
		return 0, fmt.Errorf("boot: fork: %w", err)
	}

	childFiles := parent.files.Fork()
	childThread := sched.ThreadID(childPID)

	childFrame, err := k.Sched.Frame(callerThread)
	if err != nil {
		return 0, fmt.Errorf("boot: fork: %w", err)
	}
	childFrame.R[0] = 0 // fork() returns 0 in the child
	if err := k.Sched.SpawnWithFrame(childThread, childFrame); err != nil {
		return 0, fmt.Errorf("boot: fork: %w", err)
	}

	k.mu.Lock()
	k.processes[childPID] = &processEntry{process: child, files: childFiles, thread: childThread}
	k.threadPID[childThread] = childPID
	k.mu.Unlock()

	return childPID, nil
}

// readWholeFile opens path through the VFS and reads its entire content,
// the small loader execve needs to turn a path into ELF bytes.
func (k *Kernel) readWholeFile(path string) ([]byte, error) {
	f, err := k.VFS.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, st.Size)
	off := 0
	for off < len(buf) {
		n, err := f.Read(buf[off:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		off += n
	}
	return buf[:off], nil
}

// Execve replaces the calling thread's process image in place: path is
// loaded into a brand new address space (so no mapping from the
// previous image survives), the calling thread's saved frame is
// overwritten to resume at the new entry point and stack, and the
// process keeps its PID, parent, and open file descriptors — matching
// execve(2) semantics (4.G, scenario S4).
func (k *Kernel) Execve(callerThread sched.ThreadID, path string, argv, envp []string) error {
	k.mu.Lock()
	pid, ok := k.threadPID[callerThread]
	if !ok {
		k.mu.Unlock()
		return kernelerr.New(kernelerr.ESRCH)
	}
	entry := k.processes[pid]
	k.mu.Unlock()

	elfImage, err := k.readWholeFile(path)
	if err != nil {
		return fmt.Errorf("boot: execve: %w", err)
	}
	image, err := proc.LoadELF32(elfImage)
	if err != nil {
		return fmt.Errorf("boot: execve: %w", err)
	}

	newSpace := vmm.NewAddressSpaceSplit(k.pageSrc, k.KernelSpace)
	newEntry, newSP, err := proc.Execve(entry.process, image, argv, envp, defaultUserStackTop,
		func(seg proc.Segment) error { return k.mapSegment(newSpace, seg) },
		func(addr uint32, data []byte) error { return k.writeUser(newSpace, addr, data, vmm.PermRead|vmm.PermWrite|vmm.PermUser) },
	)
	if err != nil {
		return fmt.Errorf("boot: execve: %w", err)
	}
	entry.process.Space = newSpace
	entry.name = argv0(argv)

	frame := k.Sched.PrepareFrame(newEntry, newSP)
	if err := k.Sched.SetFrame(callerThread, frame); err != nil {
		return fmt.Errorf("boot: execve: %w", err)
	}
	return nil
}

// Exit marks the process owning callerThread a zombie and removes its
// thread from scheduling.
func (k *Kernel) Exit(callerThread sched.ThreadID, code int) error {
	k.mu.Lock()
	pid, ok := k.threadPID[callerThread]
	if !ok {
		k.mu.Unlock()
		return kernelerr.New(kernelerr.ESRCH)
	}
	entry := k.processes[pid]
	k.mu.Unlock()

	entry.process.Exit(code)
	return k.Sched.Exit(callerThread)
}
