package boot

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/bootmem"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/irq"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/syscall"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs/memfs"
)

// buildMinimalARMExecutable hand-assembles a minimal ELF32/EM_ARM ET_EXEC
// image with one PT_LOAD segment, the same shape proc's own tests build
// (the standard library only reads ELF, never writes it).
func buildMinimalARMExecutable(t *testing.T, entry, vaddr uint32, payload []byte) []byte {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1}
	buf.Write(ident[:])

	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_ARM))
	write32(uint32(elf.EV_CURRENT))
	write32(entry)
	write32(ehdrSize)
	write32(0)
	write32(0)
	write16(ehdrSize)
	write16(phdrSize)
	write16(1)
	write16(0)
	write16(0)
	write16(0)

	dataOff := uint32(ehdrSize + phdrSize)
	write32(uint32(elf.PT_LOAD))
	write32(dataOff)
	write32(vaddr)
	write32(vaddr)
	write32(uint32(len(payload)))
	write32(uint32(len(payload)))
	write32(uint32(elf.PF_R | elf.PF_X))
	write32(0x1000)

	buf.Write(payload)
	return buf.Bytes()
}

func validParams() bootmem.BootParams {
	return bootmem.BootParams{
		MemoryMap:  []bootmem.Region{{Base: 0xE0000000, Size: 16 * 1024 * 1024}},
		KernelBase: 0xE0000000,
		KernelSize: 0x100000,
		Cmdline:    "console=ttyAMA0",
	}
}

func TestBootstrapRejectsInvalidParams(t *testing.T) {
	bad := validParams()
	bad.KernelBase = 0x1000 // not in the higher half
	if _, err := Bootstrap(bad, &sched.FakeCPU{}, memfs.New()); err == nil {
		t.Fatalf("expected invalid BootParams to be rejected")
	}
}

func TestBootstrapBringsUpEverySubsystem(t *testing.T) {
	k, err := Bootstrap(validParams(), &sched.FakeCPU{}, memfs.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if k.Pages == nil || k.KernelSpace == nil || k.VFS == nil || k.Sched == nil || k.Clock == nil {
		t.Fatalf("expected every subsystem to be wired, got %+v", k)
	}
	if _, hasRun := k.Sched.Current(); hasRun {
		t.Fatalf("expected no thread to be running before any process is spawned")
	}
}

func TestSpawnInitSchedulesTheEntryThread(t *testing.T) {
	k, err := Bootstrap(validParams(), &sched.FakeCPU{}, memfs.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	img := buildMinimalARMExecutable(t, 0x8000, 0x8000, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	pid, err := k.SpawnInit([]string{"/init"}, nil, img)
	if err != nil {
		t.Fatalf("SpawnInit: %v", err)
	}
	if pid != 1 {
		t.Fatalf("PID = %d, want 1", pid)
	}

	if !k.Sched.RunNext() {
		t.Fatalf("expected a ready thread to run")
	}
	tid, hasRun := k.Sched.Current()
	if !hasRun || tid != sched.ThreadID(pid) {
		t.Fatalf("Current() = (%d, %v), want (%d, true)", tid, hasRun, pid)
	}

	frame, err := k.Sched.Frame(tid)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if frame.PC != 0x8000 {
		t.Fatalf("PC = %#x, want 0x8000", frame.PC)
	}
	if frame.SP == 0 || frame.SP > defaultUserStackTop {
		t.Fatalf("SP = %#x, expected a valid address below the stack top", frame.SP)
	}
}

func dispatchSyscall(t *testing.T, k *Kernel, number syscall.Number, regs [13]uint32) *irq.Frame {
	t.Helper()
	frame := &irq.Frame{}
	frame.R = regs
	frame.R[7] = uint32(number)
	if err := k.HandleSWI(frame); err != nil {
		t.Fatalf("HandleSWI: %v", err)
	}
	return frame
}

func TestSyscallGetPIDReturnsCurrentProcess(t *testing.T) {
	k, err := Bootstrap(validParams(), &sched.FakeCPU{}, memfs.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	img := buildMinimalARMExecutable(t, 0x8000, 0x8000, []byte{0, 0, 0, 0})
	pid, err := k.SpawnInit(nil, nil, img)
	if err != nil {
		t.Fatalf("SpawnInit: %v", err)
	}
	k.Sched.RunNext()

	frame := dispatchSyscall(t, k, syscall.SysGetPID, [13]uint32{})
	if frame.R[0] != uint32(pid) {
		t.Fatalf("R[0] = %d, want %d", frame.R[0], pid)
	}
}

func TestSyscallExitMarksProcessZombie(t *testing.T) {
	k, err := Bootstrap(validParams(), &sched.FakeCPU{}, memfs.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	img := buildMinimalARMExecutable(t, 0x8000, 0x8000, []byte{0, 0, 0, 0})
	pid, err := k.SpawnInit(nil, nil, img)
	if err != nil {
		t.Fatalf("SpawnInit: %v", err)
	}
	k.Sched.RunNext()

	regs := [13]uint32{}
	regs[0] = 7 // exit code
	dispatchSyscall(t, k, syscall.SysExit, regs)

	k.mu.Lock()
	entry := k.processes[pid]
	k.mu.Unlock()
	if entry.process.State != 1 { // proc.ProcessZombie
		t.Fatalf("expected process to be a zombie after exit")
	}
	if entry.process.ExitCode != 7 {
		t.Fatalf("ExitCode = %d, want 7", entry.process.ExitCode)
	}
}

func TestSyscallDispatchUnknownNumberReportsENOSYS(t *testing.T) {
	k, err := Bootstrap(validParams(), &sched.FakeCPU{}, memfs.New())
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	frame := dispatchSyscall(t, k, syscall.Number(999), [13]uint32{})
	want := uint32(-int32(kernelerr.ENOSYS))
	if frame.R[0] != want {
		t.Fatalf("R[0] = %d, want %d", frame.R[0], want)
	}
}
