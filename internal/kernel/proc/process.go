package proc

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

type PID uint32

type ProcessState int

const (
	ProcessRunning ProcessState = iota
	ProcessZombie
)

// Process is the kernel's unit of resource ownership: an address space, a
// set of threads, and (once reaped) an exit code. File custody lives in
// vfs.FileTable, which package boot keeps beside each Process, so this
// package does not depend on vfs.
type Process struct {
	mu        ksync.Mutex
	PID       PID
	Parent    *Process
	Space     *vmm.AddressSpace
	Threads   []sched.ThreadID
	State     ProcessState
	ExitCode  int
	waiters   []chan int
	children  map[PID]*Process
}

func NewProcess(pid PID, space *vmm.AddressSpace, parent *Process) *Process {
	return &Process{
		PID:      pid,
		Parent:   parent,
		Space:    space,
		State:    ProcessRunning,
		children: make(map[PID]*Process),
	}
}

// Fork creates a child process sharing no memory with the parent: every
// user-half page is eagerly duplicated via AddressSpace.CopyInto. This
// implements the spec's eager-copy alternative to copy-on-write fork —
// simpler to get right without a COW fault path, at the cost of copying
// pages that might never be written.
func Fork(parent *Process, childPID PID, pages vmm.PageSource, copyPage func(dstPhys, srcPhys uint32)) (*Process, error) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	childSpace := vmm.NewAddressSpace(pages)
	if err := parent.Space.CopyInto(childSpace, copyPage); err != nil {
		return nil, fmt.Errorf("proc: fork %d -> %d: %w", parent.PID, childPID, err)
	}

	child := NewProcess(childPID, childSpace, parent)
	parent.children[childPID] = child
	return child, nil
}

// Execve replaces p's address space content with a freshly loaded ELF
// image, described by the caller-supplied mapFn (which allocates physical
// pages, copies segment data in, and calls AddressSpace.Protect to drop
// write permission from non-writable segments once loaded — the W^X
// enforcement the base design calls for) and returns the entry point and
// initial stack pointer threads should resume at.
func Execve(p *Process, image *LoadedImage, argv, envp []string, userStackTop uint32, mapFn func(seg Segment) error, writeStack func(addr uint32, data []byte) error) (entry, sp uint32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, seg := range image.Segments {
		if err := mapFn(seg); err != nil {
			return 0, 0, fmt.Errorf("proc: execve: map segment %#x: %w", seg.VirtAddr, err)
		}
	}

	newSP, stackImage, err := BuildUserStack(argv, envp, userStackTop)
	if err != nil {
		return 0, 0, fmt.Errorf("proc: execve: build stack: %w", err)
	}
	if err := writeStack(newSP, stackImage); err != nil {
		return 0, 0, fmt.Errorf("proc: execve: write stack: %w", err)
	}

	return image.Entry, newSP, nil
}

// Exit marks p a zombie, records its exit code, and wakes anyone already
// blocked in WaitExit.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.State = ProcessZombie
	p.ExitCode = code
	for _, ch := range p.waiters {
		ch <- code
		close(ch)
	}
	p.waiters = nil
}

// WaitExit blocks the caller's goroutine until p becomes a zombie, then
// returns its exit code. In the real kernel the blocking is performed by
// the scheduler (the calling thread is put in sched.StateBlocked and
// Unblocked from here); this method models only the synchronization
// contract so it is testable without a full scheduler wired in.
func (p *Process) WaitExit() int {
	p.mu.Lock()
	if p.State == ProcessZombie {
		code := p.ExitCode
		p.mu.Unlock()
		return code
	}
	ch := make(chan int, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()
	return <-ch
}
