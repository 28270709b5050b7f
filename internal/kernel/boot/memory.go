package boot

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/pmm"
	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

// physMemory is the byte-addressable backing store for the frames
// pmm.Allocator hands out by index. Grounded on the teacher's
// MemoryRegion (internal/hv/riscv/rv64/bus.go), a flat []byte standing in
// for guest RAM; used here the same way, as the one place in this core
// that actually holds page content, since every other component (pmm,
// vmm, proc) deliberately treats physical pages as opaque addresses.
type physMemory struct {
	data []byte
}

func newPhysMemory(frames int) *physMemory {
	return &physMemory{data: make([]byte, frames*pmm.PageSize)}
}

func (m *physMemory) bounds(phys uint32, length int) ([]byte, error) {
	if uint64(phys)+uint64(length) > uint64(len(m.data)) {
		return nil, fmt.Errorf("boot: physical range [%#x, %#x) out of bounds", phys, uint64(phys)+uint64(length))
	}
	return m.data[phys : uint64(phys)+uint64(length)], nil
}

// zeroPage clears one full page's content; AllocPage calls this so every
// freshly handed-out frame starts zeroed, the way a real allocator must
// (otherwise a process could read a previous tenant's data, e.g. from a
// freed and reused stack page).
func (m *physMemory) zeroPage(phys uint32) error {
	page, err := m.bounds(phys, vmm.PageSize)
	if err != nil {
		return err
	}
	clear(page)
	return nil
}

// writeAt copies data starting at phys. It never touches bytes past
// phys+len(data); callers rely on AllocPage's zeroing for bss-style
// zero-fill, not on writeAt clamping to a page boundary.
func (m *physMemory) writeAt(phys uint32, data []byte) error {
	dst, err := m.bounds(phys, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (m *physMemory) readAt(phys uint32, length int) ([]byte, error) {
	src, err := m.bounds(phys, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, src)
	return out, nil
}

// copyPage duplicates one full page's content, the seam proc.Fork calls
// once per mapped page when duplicating an address space eagerly.
func (m *physMemory) copyPage(dst, src uint32) {
	dstPage, err := m.bounds(dst, vmm.PageSize)
	if err != nil {
		return
	}
	srcPage, err := m.bounds(src, vmm.PageSize)
	if err != nil {
		return
	}
	copy(dstPage, srcPage)
}

// pageSource adapts pmm.Allocator (which hands out 1 KiB Frame indices) to
// vmm.PageSource (which wants byte physical addresses for one 4 KiB MMU
// page), so vmm stays independent of pmm's frame-index vocabulary. A 4 KiB
// page is an order-1 pmm block (four 1 KiB frames).
type pageSource struct {
	pages *pmm.Allocator
	mem   *physMemory
}

func (p *pageSource) AllocPage() (uint32, error) {
	f, err := p.pages.Allocate(1)
	if err != nil {
		return 0, fmt.Errorf("boot: out of physical memory: %w", err)
	}
	phys := uint32(f) * pmm.PageSize
	if err := p.mem.zeroPage(phys); err != nil {
		return 0, err
	}
	return phys, nil
}

func (p *pageSource) FreePage(phys uint32) error {
	return p.pages.Free(pmm.Frame(phys / pmm.PageSize))
}
