package proc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildMinimalARMExecutable hand-assembles a minimal valid ELF32/EM_ARM
// ET_EXEC image with a single PT_LOAD segment, since the standard library
// only exposes an ELF reader, not a writer (the teacher's own
// internal/asm/arm64/elf.go writes images by filling these structs
// directly, which this helper mirrors for ARM32 instead of ARM64).
func buildMinimalARMExecutable(t *testing.T, entry, vaddr uint32, payload []byte) []byte {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32

	var buf bytes.Buffer

	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */}
	buf.Write(ident[:])

	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_ARM))
	write32(uint32(elf.EV_CURRENT))
	write32(entry)
	write32(ehdrSize) // e_phoff
	write32(0)        // e_shoff
	write32(0)        // e_flags
	write16(ehdrSize) // e_ehsize
	write16(phdrSize) // e_phentsize
	write16(1)        // e_phnum
	write16(0)        // e_shentsize
	write16(0)        // e_shnum
	write16(0)        // e_shstrndx

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

	if buf.Len() != int(dataOff)+len(payload) {
		t.Fatalf("internal test error: built image size mismatch")
	}
	return buf.Bytes()
}

func TestLoadELF32ParsesEntryAndSegment(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	img := buildMinimalARMExecutable(t, 0x8000, 0x8000, payload)

	loaded, err := LoadELF32(img)
	if err != nil {
		t.Fatalf("LoadELF32: %v", err)
	}
	if loaded.Entry != 0x8000 {
		t.Fatalf("Entry = %#x, want 0x8000", loaded.Entry)
	}
	if len(loaded.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(loaded.Segments))
	}
	seg := loaded.Segments[0]
	if seg.VirtAddr != 0x8000 {
		t.Fatalf("VirtAddr = %#x, want 0x8000", seg.VirtAddr)
	}
	if !bytes.Equal(seg.FileData, payload) {
		t.Fatalf("FileData = %v, want %v", seg.FileData, payload)
	}
}

func TestLoadELF32RejectsWrongMachine(t *testing.T) {
	img := buildMinimalARMExecutable(t, 0x1000, 0x1000, []byte{0})
	// Corrupt e_machine (bytes 18-19) to something other than EM_ARM.
	img[18] = 0xFF
	img[19] = 0xFF

	if _, err := LoadELF32(img); err == nil {
		t.Fatalf("expected wrong-machine image to be rejected")
	}
}

func TestLoadELF32RejectsNoLoadSegments(t *testing.T) {
	// Build with zero phnum by truncating the program header away from a
	// header that claims 0 segments.
	const ehdrSize = 52
	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1}
	buf.Write(ident[:])
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_ARM))
	write32(uint32(elf.EV_CURRENT))
	write32(0x1000)
	write32(ehdrSize)
	write32(0)
	write32(0)
	write16(ehdrSize)
	write16(32)
	write16(0) // e_phnum = 0
	write16(0)
	write16(0)
	write16(0)

	if _, err := LoadELF32(buf.Bytes()); err == nil {
		t.Fatalf("expected image with no loadable segments to be rejected")
	}
}
