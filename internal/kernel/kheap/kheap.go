// Package kheap implements the kernel's own dynamic allocator: a first-fit
// free-list suballocator carved out of a region grown on demand (the kernel's
// equivalent of sbrk), exposed behind an Allocator interface so an
// alternate strategy can be substituted in tests without touching the
// section-growth logic. Grounded on gopher-os' kernel/mem/kheap sbrk-backed
// allocator shape.
package kheap

import (
	"fmt"
	"unsafe"
)

// GrowFunc extends the heap's backing storage by at least minBytes,
// returning the new total capacity available from the heap's base. This is
// the seam where the real kernel maps fresh pages via vmm; tests supply a
// fake that just grows a Go byte slice.
type GrowFunc func(minBytes uintptr) (newCapacity uintptr, err error)

// Allocator is the interface kernel code allocates and frees through, so a
// test or a future bump/slab hybrid can stand in for Heap.
type Allocator interface {
	Alloc(size, align uintptr) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer)
}

type block struct {
	offset uintptr
	size   uintptr
	free   bool
}

// Heap is a simple first-fit free-list allocator over a byte arena that
// grows via GrowFunc when exhausted. It never shrinks: freed blocks rejoin
// the free list for reuse, matching how a kernel heap typically behaves
// (returning memory to the OS is the exception, not the rule).
type Heap struct {
	base     unsafe.Pointer
	capacity uintptr
	grow     GrowFunc
	blocks   []block
}

func New(base unsafe.Pointer, initialCapacity uintptr, grow GrowFunc) *Heap {
	h := &Heap{base: base, capacity: initialCapacity, grow: grow}
	if initialCapacity > 0 {
		h.blocks = []block{{offset: 0, size: initialCapacity, free: true}}
	}
	return h
}

func alignUp(v, align uintptr) uintptr {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (h *Heap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, fmt.Errorf("kheap: zero-size allocation")
	}
	if align == 0 {
		align = 1
	}

	for {
		if ptr, ok := h.tryAlloc(size, align); ok {
			return ptr, nil
		}
		if h.grow == nil {
			return nil, fmt.Errorf("kheap: out of memory, cannot grow")
		}
		needed := size + align
		newCap, err := h.grow(needed)
		if err != nil {
			return nil, fmt.Errorf("kheap: grow: %w", err)
		}
		if newCap <= h.capacity {
			return nil, fmt.Errorf("kheap: grow did not increase capacity")
		}
		added := newCap - h.capacity
		if n := len(h.blocks); n > 0 && h.blocks[n-1].free && h.blocks[n-1].offset+h.blocks[n-1].size == h.capacity {
			h.blocks[n-1].size += added
		} else {
			h.blocks = append(h.blocks, block{offset: h.capacity, size: added, free: true})
		}
		h.capacity = newCap
	}
}

func (h *Heap) tryAlloc(size, align uintptr) (unsafe.Pointer, bool) {
	for i := range h.blocks {
		b := &h.blocks[i]
		if !b.free {
			continue
		}
		alignedOffset := alignUp(b.offset, align)
		pad := alignedOffset - b.offset
		if pad+size > b.size {
			continue
		}

		if pad > 0 {
			h.blocks = insertBlock(h.blocks, i, block{offset: b.offset, size: pad, free: true})
			i++
			b = &h.blocks[i]
		}

		remaining := b.size - pad - size
		b.offset = alignedOffset
		b.size = size
		b.free = false

		if remaining > 0 {
			h.blocks = insertBlock(h.blocks, i+1, block{offset: alignedOffset + size, size: remaining, free: true})
		}

		return unsafe.Add(h.base, alignedOffset), true
	}
	return nil, false
}

func insertBlock(blocks []block, at int, b block) []block {
	blocks = append(blocks, block{})
	copy(blocks[at+1:], blocks[at:])
	blocks[at] = b
	return blocks
}

// Free releases a previously allocated pointer, coalescing with adjacent
// free blocks.
func (h *Heap) Free(ptr unsafe.Pointer) {
	offset := uintptr(ptr) - uintptr(h.base)
	for i := range h.blocks {
		if h.blocks[i].offset == offset && !h.blocks[i].free {
			h.blocks[i].free = true
			h.coalesce(i)
			return
		}
	}
}

func (h *Heap) coalesce(i int) {
	if i+1 < len(h.blocks) && h.blocks[i+1].free {
		h.blocks[i].size += h.blocks[i+1].size
		h.blocks = append(h.blocks[:i+1], h.blocks[i+2:]...)
	}
	if i > 0 && h.blocks[i-1].free {
		h.blocks[i-1].size += h.blocks[i].size
		h.blocks = append(h.blocks[:i], h.blocks[i+1:]...)
	}
}

// FreeBytes returns the total free capacity across all free blocks.
func (h *Heap) FreeBytes() uintptr {
	var total uintptr
	for _, b := range h.blocks {
		if b.free {
			total += b.size
		}
	}
	return total
}

var _ Allocator = (*Heap)(nil)
