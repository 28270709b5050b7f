// Package proc implements process lifecycle: ELF32 loading, fork, execve,
// and the user stack layout execve builds for a new program image.
// Grounded on the teacher's internal/asm/arm64/elf.go, which builds ELF
// images directly against the standard library's debug/elf constants
// rather than hand-rolling the format; this package reads images the same
// way, against the same package, in the opposite direction.
package proc

import (
	"debug/elf"
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

// Segment is one loadable ELF segment, reduced to what the loader needs:
// where it goes in the new address space and what permissions it needs
// once its content has been copied in.
type Segment struct {
	VirtAddr uint32
	FileData []byte
	MemSize  uint32
	Perm     vmm.Permission
}

// LoadedImage is the result of parsing an ELF32 binary: its loadable
// segments and entry point, ready to be mapped into a fresh address space.
type LoadedImage struct {
	Entry    uint32
	Segments []Segment
}

// LoadELF32 parses img as an ARM ELF32 executable, validating the machine
// and class fields and extracting PT_LOAD segments in file order.
func LoadELF32(img []byte) (*LoadedImage, error) {
	f, err := elf.NewFile(byteReaderAt(img))
	if err != nil {
		return nil, fmt.Errorf("proc: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("proc: expected ELFCLASS32, got %s", f.Class)
	}
	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("proc: expected EM_ARM, got %s", f.Machine)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("proc: expected ET_EXEC, got %s", f.Type)
	}

	out := &LoadedImage{Entry: uint32(f.Entry)}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("proc: read segment at %#x: %w", prog.Vaddr, err)
		}
		out.Segments = append(out.Segments, Segment{
			VirtAddr: uint32(prog.Vaddr),
			FileData: data,
			MemSize:  uint32(prog.Memsz),
			Perm:     progFlagsToPerm(prog.Flags),
		})
	}
	if len(out.Segments) == 0 {
		return nil, fmt.Errorf("proc: ELF image has no loadable segments")
	}
	return out, nil
}

func progFlagsToPerm(flags elf.ProgFlag) vmm.Permission {
	var p vmm.Permission
	if flags&elf.PF_R != 0 {
		p |= vmm.PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= vmm.PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= vmm.PermExec
	}
	return p | vmm.PermUser
}

// byteReaderAt adapts a byte slice to io.ReaderAt for debug/elf.NewFile.
type byteReaderAt []byte

func (b byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("proc: read past end of image at offset %d", off)
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("proc: short read at offset %d", off)
	}
	return n, nil
}
