// Package bootmem implements the bump allocator used during early boot to
// carve the initial L1 page table and kernel stack out of the memory
// regions the boot loader reported, before the buddy physical page
// allocator is running. Grounded on gopher-os' early bootmem allocator
// shape and on the teacher's BootParams struct-packing style
// (internal/linux/boot/bootparams.go).
package bootmem

import "fmt"

// Region describes one span of usable physical memory, in the same spirit
// as an E820-style map entry.
type Region struct {
	Base uint64
	Size uint64
}

func (r Region) End() uint64 { return r.Base + r.Size }

func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// Arena is a bump allocator over a single Region. It never frees; it exists
// only to hand out the handful of early, permanent allocations bootstrap
// needs before pmm.Allocator takes over.
type Arena struct {
	region Region
	next   uint64
}

func NewArena(region Region) *Arena {
	return &Arena{region: region, next: region.Base}
}

// Reserve carves out size bytes aligned to align (which must be a power of
// two), returning the base address of the reservation. ok is false if the
// arena has no room left.
func (a *Arena) Reserve(size, align uint64) (addr uint64, ok bool) {
	if align == 0 || align&(align-1) != 0 {
		panic("bootmem: alignment must be a power of two")
	}
	start := alignUp(a.next, align)
	if start+size > a.region.End() || start+size < start {
		return 0, false
	}
	a.next = start + size
	return start, true
}

func (a *Arena) Remaining() uint64 {
	return a.region.End() - a.next
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// BootParams is the record the boot loader hands to the kernel entry point:
// the memory map, the ramdisk location, and the kernel command line.
type BootParams struct {
	MemoryMap  []Region
	KernelBase uint64
	KernelSize uint64
	InitrdBase uint64
	InitrdSize uint64
	Cmdline    string
}

// Validate checks internal consistency: regions must not overlap, the
// kernel and initrd images must each lie within some reported region, and
// every address handed to the kernel must already be in higher-half form
// (>= 0xE0000000), since the MMU is enabled before BootParams is consumed.
func (b BootParams) Validate() error {
	const higherHalf = 0xE0000000

	for i, r := range b.MemoryMap {
		if r.Size == 0 {
			return fmt.Errorf("bootmem: memory region %d has zero size", i)
		}
		for j, other := range b.MemoryMap {
			if i != j && r.Overlaps(other) {
				return fmt.Errorf("bootmem: memory region %d overlaps region %d", i, j)
			}
		}
		if r.Base < higherHalf {
			return fmt.Errorf("bootmem: memory region %d base %#x is not in the higher half", i, r.Base)
		}
	}

	if b.KernelBase < higherHalf {
		return fmt.Errorf("bootmem: kernel base %#x is not in the higher half", b.KernelBase)
	}
	if b.InitrdSize > 0 && b.InitrdBase < higherHalf {
		return fmt.Errorf("bootmem: initrd base %#x is not in the higher half", b.InitrdBase)
	}
	if !b.containedInAnyRegion(b.KernelBase, b.KernelSize) {
		return fmt.Errorf("bootmem: kernel image [%#x, %#x) is outside the reported memory map", b.KernelBase, b.KernelBase+b.KernelSize)
	}
	if b.InitrdSize > 0 && !b.containedInAnyRegion(b.InitrdBase, b.InitrdSize) {
		return fmt.Errorf("bootmem: initrd [%#x, %#x) is outside the reported memory map", b.InitrdBase, b.InitrdBase+b.InitrdSize)
	}
	return nil
}

func (b BootParams) containedInAnyRegion(base, size uint64) bool {
	want := Region{Base: base, Size: size}
	for _, r := range b.MemoryMap {
		if want.Base >= r.Base && want.End() <= r.End() {
			return true
		}
	}
	return false
}
