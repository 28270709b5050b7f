package boot

import (
	"encoding/binary"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/irq"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/pipe"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/proc"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/sched"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/syscall"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vfs"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

// userMemory adapts one process' AddressSpace to syscall.UserMemory, the
// narrow seam every handler uses to move bytes across the user/kernel
// boundary without reaching into vmm directly.
type userMemory struct {
	k     *Kernel
	space *vmm.AddressSpace
}

func (u userMemory) CopyFromUser(dst []byte, userVA uint32) error {
	return u.k.copyFromUser(u.space, dst, userVA)
}

func (u userMemory) CopyToUser(userVA uint32, src []byte) error {
	return u.k.copyToUser(u.space, userVA, src)
}

// current resolves the running thread to its process entry, the lookup
// every handler below needs first.
func (k *Kernel) current() (sched.ThreadID, *processEntry, error) {
	tid, hasRun := k.Sched.Current()
	if !hasRun {
		return 0, nil, kernelerr.New(kernelerr.ESRCH)
	}
	k.mu.Lock()
	pid, ok := k.threadPID[tid]
	var entry *processEntry
	if ok {
		entry = k.processes[pid]
	}
	k.mu.Unlock()
	if !ok || entry == nil {
		return 0, nil, kernelerr.New(kernelerr.ESRCH)
	}
	return tid, entry, nil
}

// registerSyscalls installs the handlers for every syscall number this
// core wires end to end. mount/unmount/readdir/signal delivery are
// contracted through vfs.Filesystem and sched but genuinely need a
// concrete filesystem or device backend (an external collaborator, per
// the core's scope) to be exercised meaningfully, so those stay
// unregistered; link(2) is likewise left unregistered since no
// Filesystem implementation in this core exposes a hardlink operation,
// and select(2) needs a readiness-polling primitive this core's blocking
// model doesn't have yet (see DESIGN.md for both).
func (k *Kernel) registerSyscalls() error {
	handlers := []struct {
		n syscall.Number
		h syscall.Handler
	}{
		{syscall.SysYield, k.sysYield},
		{syscall.SysExit, k.sysExit},
		{syscall.SysDebugLog, k.sysDebugLog},
		{syscall.SysGetProcessInfo, k.sysGetProcessInfo},
		{syscall.SysFork, k.sysFork},
		{syscall.SysExecve, k.sysExecve},
		{syscall.SysWaitPid, k.sysWaitPid},
		{syscall.SysOpen, k.sysOpen},
		{syscall.SysRead, k.sysRead},
		{syscall.SysWrite, k.sysWrite},
		{syscall.SysClose, k.sysClose},
		{syscall.SysStat, k.sysStat},
		{syscall.SysSeek, k.sysSeek},
		{syscall.SysCreatePipe, k.sysCreatePipe},
		{syscall.SysDup2, k.sysDup2},
		{syscall.SysFStat, k.sysFStat},
		{syscall.SysMakeDirectory, k.sysMakeDirectory},
		{syscall.SysRemoveDirectory, k.sysRemoveDirectory},
		{syscall.SysUnlink, k.sysUnlink},
		{syscall.SysGetDateTime, k.sysGetDateTime},
		{syscall.SysMilliSleep, k.sysMilliSleep},
		{syscall.SysGetPID, k.sysGetPID},
		{syscall.SysGetParentPID, k.sysGetParentPID},
	}
	for _, r := range handlers {
		if err := k.Syscalls.Register(r.n, r.h); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) sysYield(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	k.Sched.RunNext()
	return 0, nil
}

func (k *Kernel) sysExit(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	codeRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	tid, _, err := k.current()
	if err != nil {
		return 0, err
	}
	if err := k.Exit(tid, int(int32(codeRaw))); err != nil {
		return 0, err
	}
	k.Sched.RunNext()
	return 0, nil
}

func (k *Kernel) sysFork(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	tid, _, err := k.current()
	if err != nil {
		return 0, err
	}
	childPID, err := k.Fork(tid)
	if err != nil {
		return 0, err
	}
	return uint32(childPID), nil
}

func (k *Kernel) sysWaitPid(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	childPIDRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	child, ok := k.processes[proc.PID(childPIDRaw)]
	k.mu.Unlock()
	if !ok {
		return 0, kernelerr.New(kernelerr.ESRCH)
	}
	code := child.process.WaitExit()
	return uint32(int32(code)), nil
}

func (k *Kernel) sysGetPID(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	return uint32(entry.process.PID), nil
}

func (k *Kernel) sysGetParentPID(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	if entry.process.Parent == nil {
		return 0, nil
	}
	return uint32(entry.process.Parent.PID), nil
}

func (k *Kernel) sysRead(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	fdRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	length, err := args.Raw(2)
	if err != nil {
		return 0, err
	}
	f, err := entry.files.Get(vfs.FD(fdRaw))
	if err != nil {
		return 0, err
	}
	buf := make([]byte, length)
	n, err := f.Read(buf)
	if err != nil {
		return 0, err
	}
	if err := args.CopyOut(1, buf[:n]); err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (k *Kernel) sysWrite(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	fdRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	length, err := args.Raw(2)
	if err != nil {
		return 0, err
	}
	data, err := args.CopyIn(1, length)
	if err != nil {
		return 0, err
	}
	f, err := entry.files.Get(vfs.FD(fdRaw))
	if err != nil {
		return 0, err
	}
	n, err := f.Write(data)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

const maxPathLen = 256

func (k *Kernel) sysOpen(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	f, err := k.VFS.Open(path)
	if err != nil {
		return 0, err
	}
	fd := entry.files.Install(f)
	return uint32(fd), nil
}

func (k *Kernel) sysClose(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	fdRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	if err := entry.files.CloseFD(vfs.FD(fdRaw)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysMilliSleep(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	msRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	tid, _, err := k.current()
	if err != nil {
		return 0, err
	}
	ticks := uint64(msRaw) * defaultTimerHz / 1000
	if err := k.Sched.Block(tid); err != nil {
		return 0, err
	}
	k.Clock.After(ticks, func() {
		k.Sched.Unblock(tid)
	})
	k.Sched.RunNext()
	return 0, nil
}

func (k *Kernel) sysGetDateTime(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	dt := k.Wall.DateTime()
	var buf [32]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dt.Year))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dt.Month))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dt.Day))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(dt.Hour))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(dt.Minute))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(dt.Second))
	binary.LittleEndian.PutUint64(buf[24:32], dt.TicksSinceBoot)
	if err := args.CopyOut(0, buf[:]); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysDebugLog(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	msg, err := args.CopyInCString(0, 512)
	if err != nil {
		return 0, err
	}
	k.Log.Info("user debug log", "pid", entry.process.PID, "msg", msg)
	return 0, nil
}

const maxExecArgs = 64

// sysExecve marshals path, argv, and envp out of user memory and hands
// them to Kernel.Execve, wiring syscall #6 end to end (scenario S4).
func (k *Kernel) sysExecve(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	tid, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	argv, err := args.CopyInStringArray(1, maxExecArgs, maxPathLen)
	if err != nil {
		return 0, err
	}
	envp, err := args.CopyInStringArray(2, maxExecArgs, maxPathLen)
	if err != nil {
		return 0, err
	}

	if err := k.Execve(tid, path, argv, envp); err != nil {
		return 0, err
	}
	return 0, nil
}

// sysGetProcessInfo copies api::ProcessInfo{pid, name[32]} to the user
// pointer in r0.
func (k *Kernel) sysGetProcessInfo(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	var buf [36]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(entry.process.PID))
	copy(buf[4:35], entry.name) // buf[35] stays 0, guaranteeing NUL termination
	if err := args.CopyOut(0, buf[:]); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysSeek(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	fdRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	offsetRaw, err := args.Raw(1)
	if err != nil {
		return 0, err
	}
	whenceRaw, err := args.Raw(2)
	if err != nil {
		return 0, err
	}
	f, err := entry.files.Get(vfs.FD(fdRaw))
	if err != nil {
		return 0, err
	}
	newOffset, err := f.Seek(int64(int32(offsetRaw)), int(whenceRaw))
	if err != nil {
		return 0, err
	}
	return uint32(newOffset), nil
}

// encodeStat packs a vfs.Stat into the fixed wire layout Stat/FStat copy
// to user space: inode, kind, size, mode, nlink, all little-endian. This
// mirrors the field subset api::Stat carries in vfs.cpp's inode_stat
// (st_ino, st_mode, st_nlink, st_size, plus a type tag) that this core's
// Stat struct actually tracks; the original's st_dev/st_uid/st_gid/
// st_rdev/st_blksize/st_blocks/atim/mtim/ctim have no counterpart here
// since nothing in this VFS core models device numbers, ownership, or
// block-based storage geometry.
func encodeStat(st vfs.Stat) []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:8], st.Inode)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(st.Kind))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[20:24], st.Mode)
	binary.LittleEndian.PutUint32(buf[24:28], st.NLink)
	return buf
}

func (k *Kernel) sysStat(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	st, err := k.VFS.Stat(path)
	if err != nil {
		return 0, err
	}
	if err := args.CopyOut(1, encodeStat(st)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysFStat(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	fdRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	f, err := entry.files.Get(vfs.FD(fdRaw))
	if err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := args.CopyOut(1, encodeStat(st)); err != nil {
		return 0, err
	}
	return 0, nil
}

// pipeCapacity is the fixed ring size every anonymous pipe gets; above
// pipe.New's required minimum, matching the original's 1025-byte
// PipeBuffer::data close enough to round to a page-friendly size.
const pipeCapacity = 4096

// sysCreatePipe creates an anonymous pipe, installs both ends into the
// caller's file table, and writes the two resulting FDs to the int32[2]
// user pointer in r0 (create_pipe's out_fds), wiring syscall #16
// (scenario S2).
func (k *Kernel) sysCreatePipe(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	p, err := pipe.New(pipeCapacity)
	if err != nil {
		return 0, err
	}
	readFD := entry.files.Install(vfs.NewPipeFile(p, true))
	writeFD := entry.files.Install(vfs.NewPipeFile(p, false))

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(readFD))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(writeFD))
	if err := args.CopyOut(0, buf[:]); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysDup2(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	oldRaw, err := args.Raw(0)
	if err != nil {
		return 0, err
	}
	newRaw, err := args.Raw(1)
	if err != nil {
		return 0, err
	}
	if err := entry.files.Dup2(vfs.FD(oldRaw), vfs.FD(newRaw)); err != nil {
		return 0, err
	}
	return newRaw, nil
}

func (k *Kernel) sysMakeDirectory(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	modeRaw, err := args.Raw(1)
	if err != nil {
		return 0, err
	}
	if err := k.VFS.Mkdir(path, modeRaw); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysRemoveDirectory(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	if err := k.VFS.Rmdir(path); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) sysUnlink(frame *irq.Frame, args *syscall.Args) (uint32, error) {
	_, entry, err := k.current()
	if err != nil {
		return 0, err
	}
	args = args.WithMemory(userMemory{k: k, space: entry.process.Space})

	path, err := args.CopyInCString(0, maxPathLen)
	if err != nil {
		return 0, err
	}
	if err := k.VFS.Unlink(path); err != nil {
		return 0, err
	}
	return 0, nil
}
