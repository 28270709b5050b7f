// Package ksync provides the kernel core's locking primitives: a busy-wait
// spinlock for short critical sections that must not sleep (interrupt
// handlers, the scheduler run queue), a blocking mutex for longer sections
// that may sleep, a reentrant spinlock for code paths that may re-enter
// their own critical section, and an IRQ-disable guard for sections that
// must not be interrupted at all.
//
// The blocking primitive is gvisor.dev/gvisor/pkg/sync's drop-in
// replacement for sync.Mutex/sync.RWMutex rather than the standard
// library's, the way the teacher's dependency graph already pulls it in for
// its sentry-adjacent code paths; it behaves identically to sync.Mutex but
// is built to be race-detector and checklocks friendly, which matters more
// in a kernel than in ordinary application code.
package ksync

import (
	"runtime"

	"gvisor.dev/gvisor/pkg/atomicbitops"
	gvsync "gvisor.dev/gvisor/pkg/sync"
)

// Spinlock is a busy-wait lock safe to take from interrupt context. It must
// never be held across a blocking call.
type Spinlock struct {
	state atomicbitops.Uint32
}

const (
	spinUnlocked = 0
	spinLocked   = 1
)

func (s *Spinlock) Lock() {
	for !s.TryLock() {
		runtime.Gosched()
	}
}

func (s *Spinlock) TryLock() bool {
	return s.state.CompareAndSwap(spinUnlocked, spinLocked)
}

func (s *Spinlock) Unlock() {
	s.state.Store(spinUnlocked)
}

// ReentrantSpinlock is a Spinlock that the same logical owner may take more
// than once, tracked by an owner token supplied by the caller (typically a
// thread or CPU identifier) rather than by goroutine identity, since the
// kernel's notion of "current thread" is its own scheduler state, not a
// goroutine.
type ReentrantSpinlock struct {
	inner Spinlock
	owner atomicbitops.Int64
	depth int
}

const noOwner int64 = -1

func NewReentrantSpinlock() *ReentrantSpinlock {
	r := &ReentrantSpinlock{}
	r.owner.Store(noOwner)
	return r
}

func (r *ReentrantSpinlock) Lock(ownerID int64) {
	if r.owner.Load() == ownerID && r.depth > 0 {
		r.depth++
		return
	}
	r.inner.Lock()
	r.owner.Store(ownerID)
	r.depth = 1
}

func (r *ReentrantSpinlock) Unlock(ownerID int64) {
	if r.owner.Load() != ownerID {
		panic("ksync: ReentrantSpinlock unlocked by non-owner")
	}
	r.depth--
	if r.depth > 0 {
		return
	}
	r.owner.Store(noOwner)
	r.inner.Unlock()
}

// Mutex is a blocking mutex for critical sections that may need to sleep
// (waiting on I/O, on another thread). Backed by gvisor's sync.Mutex.
type Mutex struct {
	m gvsync.Mutex
}

func (m *Mutex) Lock()         { m.m.Lock() }
func (m *Mutex) Unlock()       { m.m.Unlock() }
func (m *Mutex) TryLock() bool { return m.m.TryLock() }

// RWMutex is a blocking reader/writer mutex, backed by gvisor's
// sync.RWMutex, for structures like the VFS mount table and inode cache
// that are read far more often than written.
type RWMutex struct {
	m gvsync.RWMutex
}

func (m *RWMutex) Lock()    { m.m.Lock() }
func (m *RWMutex) Unlock()  { m.m.Unlock() }
func (m *RWMutex) RLock()   { m.m.RLock() }
func (m *RWMutex) RUnlock() { m.m.RUnlock() }

// IRQMasker is the architecture hook an IRQGuard uses to mask and restore
// interrupts. The kernel's component E installs the real implementation
// (CPSR I-bit set/clear) once at boot; tests install a fake.
type IRQMasker interface {
	// Disable masks IRQs and returns the previous mask state, to be
	// restored later. Nestable: disabling twice and restoring twice must
	// leave interrupts masked until the outer restore.
	Disable() (prevState uint32)
	Restore(prevState uint32)
}

var currentMasker IRQMasker = noopMasker{}

// SetIRQMasker installs the architecture's interrupt mask/restore hook.
// Called once during bootstrap before any IRQGuard is used outside tests.
func SetIRQMasker(m IRQMasker) {
	currentMasker = m
}

type noopMasker struct{}

func (noopMasker) Disable() uint32    { return 0 }
func (noopMasker) Restore(_ uint32) {}

// IRQGuard disables interrupts for a critical section that must run to
// completion without preemption or device IRQ delivery, such as a context
// switch or a page-table edit visible to an interrupt handler.
type IRQGuard struct {
	prev uint32
}

// DisableIRQ masks interrupts and returns a guard; call Restore to unmask.
func DisableIRQ() IRQGuard {
	return IRQGuard{prev: currentMasker.Disable()}
}

func (g IRQGuard) Restore() {
	currentMasker.Restore(g.prev)
}
