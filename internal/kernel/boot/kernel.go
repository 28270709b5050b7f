// Package boot wires bootmem, pmm, vmm, irq, sched, proc, vfs, pipe,
// syscall, timer, and ksync into one runnable kernel instance: the
// equivalent of the board-specific entry point that would, on real
// hardware, hand off from assembly startup code into Go. Grounded on the
// teacher's internal/linux/boot/loader.go orchestration style — a single
// entry point (Load) that walks a fixed sequence of subsystem
// initialization steps, wrapping every failure with %w context so a boot
// failure reports exactly which stage it happened in.
package boot

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/bootmem"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/irq"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/kfmt"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/pmm"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/proc"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/syscall"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/timer"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

const ringBufferCapacity = 64 * 1024

// defaultTimerHz matches the base design's 5 ms default scheduler tick
// (1000ms / 5ms).
const defaultTimerHz = 200

// fakeEpoch is the fixed boot-time wall clock the original kernel's
// datetime.cpp seeds g_last_read_datetime with when no real RTC is
// present; this core never reads hardware RTC either, so it is the only
// epoch GetDateTime ever reports from.
var fakeEpoch = time.Date(2023, time.July, 25, 9, 45, 23, 0, time.UTC)

// Kernel is the live, wired-together kernel core: every component from
// bootmem.BootParams down to the syscall dispatch table, plus the process
// table this package owns on their behalf (none of the leaf packages know
// about processes as a concept spanning proc+vfs+sched together).
type Kernel struct {
	Log         *slog.Logger
	Ring        *kfmt.RingBuffer
	Pages       *pmm.Allocator
	KernelSpace *vmm.AddressSpace
	VFS         *vfs.Core
	Sched       *sched.Scheduler
	Clock       *timer.Clock
	Wall        *timer.WallClock
	IRQ         *irq.Dispatcher
	Syscalls    *syscall.Dispatcher

	pageSrc *pageSource
	mem     *physMemory

	mu        ksync.Mutex
	processes map[proc.PID]*processEntry
	threadPID map[sched.ThreadID]proc.PID
	nextPID   proc.PID
}

// Bootstrap validates params, brings up every subsystem in dependency
// order, and returns a Kernel ready to have its first process spawned via
// SpawnInit. root is the filesystem implementation mounted at "/"; concrete
// filesystems remain an external collaborator per the core's contract, so
// boot itself never imports memfs or any other backend.
func Bootstrap(params bootmem.BootParams, cpu sched.CPU, root vfs.Filesystem) (*Kernel, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("boot: invalid boot params: %w", err)
	}

	var totalBytes uint64
	for _, r := range params.MemoryMap {
		totalBytes += r.Size
	}
	nFrames := int(totalBytes / pmm.PageSize)
	if nFrames == 0 {
		return nil, fmt.Errorf("boot: memory map describes no usable page frames")
	}

	logger, ring := kfmt.NewLogger(ringBufferCapacity)

	pages := pmm.New(0, nFrames)
	mem := newPhysMemory(nFrames)
	pageSrc := &pageSource{pages: pages, mem: mem}

	kernelSpace := vmm.NewAddressSpace(pageSrc)

	vfsCore := vfs.NewCore()
	if err := vfsCore.Mount("/", root); err != nil {
		return nil, fmt.Errorf("boot: mounting root filesystem: %w", err)
	}

	clock := timer.NewClock()

	k := &Kernel{
		Log:         logger,
		Ring:        ring,
		Pages:       pages,
		KernelSpace: kernelSpace,
		VFS:         vfsCore,
		Sched:       sched.New(cpu),
		Clock:       clock,
		Wall:        timer.NewWallClock(clock, fakeEpoch, defaultTimerHz),
		IRQ:         irq.NewDispatcher(),
		Syscalls:    syscall.NewDispatcher(),
		pageSrc:     pageSrc,
		mem:         mem,
		processes:   make(map[proc.PID]*processEntry),
		threadPID:   make(map[sched.ThreadID]proc.PID),
		nextPID:     1,
	}

	if err := k.registerTimerIRQ(); err != nil {
		return nil, fmt.Errorf("boot: registering timer IRQ: %w", err)
	}
	if err := k.registerSyscalls(); err != nil {
		return nil, fmt.Errorf("boot: registering syscalls: %w", err)
	}
	if err := k.IRQ.Register(irq.VectorSWI, k.HandleSWI); err != nil {
		return nil, fmt.Errorf("boot: registering SWI vector: %w", err)
	}

	k.Log.Info("kernel bootstrap complete", "frames", nFrames, "cmdline", params.Cmdline)
	return k, nil
}

// registerTimerIRQ chains the monotonic clock and the scheduler's quantum
// bookkeeping onto the shared IRQ vector, the same vector every device
// handler shares (the handler itself decides whether the interrupt was
// actually the timer via the platform's interrupt controller, out of
// scope here; this core only needs Tick to run once per real hardware
// tick).
func (k *Kernel) registerTimerIRQ() error {
	return k.IRQ.Register(irq.VectorIRQ, func(frame *irq.Frame) error {
		k.Clock.Tick()
		k.Sched.Tick()
		return nil
	})
}

// HandleSWI is the irq.Handler registered for VectorSWI, kept as its own
// named method (rather than an inline closure) so tests can invoke syscall
// dispatch directly without going through the IRQ vector.
func (k *Kernel) HandleSWI(frame *irq.Frame) error {
	return k.Syscalls.Dispatch(frame)
}
