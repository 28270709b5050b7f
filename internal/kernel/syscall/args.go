package syscall

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/irq"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/kernelerr"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

// UserMemory is the narrow seam syscall handlers use to move bytes across
// the user/kernel boundary; it is backed by the faulting thread's
// AddressSpace so every handler validates pointers the same way, grounded
// on the teacher's layered validation pattern in internal/vfs/backend.go.
type UserMemory interface {
	CopyFromUser(dst []byte, userVA uint32) error
	CopyToUser(userVA uint32, src []byte) error
}

// Args is a view over one syscall invocation's raw register arguments
// (r0-r6, per the ARM EABI calling convention) plus the validated user
// memory accessor for that thread.
type Args struct {
	frame *irq.Frame
	mem   UserMemory
}

func newArgs(frame *irq.Frame) *Args {
	return &Args{frame: frame}
}

// WithMemory attaches the user-memory accessor; called by the dispatcher's
// caller once the faulting thread's address space is known, kept separate
// from newArgs so this package doesn't need to import the process
// registry.
func (a *Args) WithMemory(mem UserMemory) *Args {
	a.mem = mem
	return a
}

// Raw returns the nth raw register argument (0-indexed, r0..r6).
func (a *Args) Raw(n int) (uint32, error) {
	if n < 0 || n > 6 {
		return 0, fmt.Errorf("syscall: argument index %d out of range", n)
	}
	return a.frame.R[n], nil
}

const userHalfLimit = vmm.KernelHalfBase

// validatePointer rejects any access that would reach into the kernel
// half of the address space, the clamp every handler performs before
// touching user-supplied pointers.
func validatePointer(addr uint32, length uint32) error {
	if addr >= userHalfLimit {
		return kernelerr.New(kernelerr.EFAULT)
	}
	end := addr + length
	if end < addr || end > userHalfLimit {
		return kernelerr.New(kernelerr.EFAULT)
	}
	return nil
}

// CopyIn reads length bytes from the user pointer at argument index n into
// a fresh buffer, validating the pointer stays within the user half
// first.
func (a *Args) CopyIn(n int, length uint32) ([]byte, error) {
	addr, err := a.Raw(n)
	if err != nil {
		return nil, err
	}
	if err := validatePointer(addr, length); err != nil {
		return nil, err
	}
	if a.mem == nil {
		return nil, fmt.Errorf("syscall: no user memory accessor attached")
	}
	buf := make([]byte, length)
	if err := a.mem.CopyFromUser(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyOut writes data to the user pointer at argument index n, validating
// the pointer range first.
func (a *Args) CopyOut(n int, data []byte) error {
	addr, err := a.Raw(n)
	if err != nil {
		return err
	}
	if err := validatePointer(addr, uint32(len(data))); err != nil {
		return err
	}
	if a.mem == nil {
		return fmt.Errorf("syscall: no user memory accessor attached")
	}
	return a.mem.CopyToUser(addr, data)
}

// copyInUint32At reads one little-endian uint32 from an arbitrary
// validated user address, the primitive CopyInStringArray uses to walk a
// NULL-terminated pointer array rather than a single register argument.
func (a *Args) copyInUint32At(addr uint32) (uint32, error) {
	if err := validatePointer(addr, 4); err != nil {
		return 0, err
	}
	if a.mem == nil {
		return 0, fmt.Errorf("syscall: no user memory accessor attached")
	}
	var buf [4]byte
	if err := a.mem.CopyFromUser(buf[:], addr); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// copyInCStringAt reads a NUL-terminated string from an arbitrary
// validated user address, the address-taking counterpart of
// CopyInCString used once CopyInStringArray has already dereferenced one
// entry of a pointer array.
func (a *Args) copyInCStringAt(addr, maxLen uint32) (string, error) {
	if err := validatePointer(addr, maxLen); err != nil {
		return "", err
	}
	if a.mem == nil {
		return "", fmt.Errorf("syscall: no user memory accessor attached")
	}
	buf := make([]byte, maxLen)
	if err := a.mem.CopyFromUser(buf, addr); err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", kernelerr.New(kernelerr.ERANGE)
}

// CopyInStringArray reads a NULL-terminated array of user char* pointers
// at argument index n — execve's argv/envp convention — up to maxEntries
// strings of at most maxLen bytes each.
func (a *Args) CopyInStringArray(n int, maxEntries int, maxLen uint32) ([]string, error) {
	base, err := a.Raw(n)
	if err != nil {
		return nil, err
	}

	var out []string
	for i := 0; i < maxEntries; i++ {
		ptr, err := a.copyInUint32At(base + uint32(i)*4)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}
		s, err := a.copyInCStringAt(ptr, maxLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, kernelerr.New(kernelerr.ERANGE)
}

// CopyInCString reads a NUL-terminated string from a user pointer, up to
// maxLen bytes, returning kernelerr.ERANGE if no terminator is found
// within that bound.
func (a *Args) CopyInCString(n int, maxLen uint32) (string, error) {
	addr, err := a.Raw(n)
	if err != nil {
		return "", err
	}
	if err := validatePointer(addr, maxLen); err != nil {
		return "", err
	}
	if a.mem == nil {
		return "", fmt.Errorf("syscall: no user memory accessor attached")
	}
	buf := make([]byte, maxLen)
	if err := a.mem.CopyFromUser(buf, addr); err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", kernelerr.New(kernelerr.ERANGE)
}
