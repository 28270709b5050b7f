// Package pmm implements the physical page allocator: a buddy allocator
// over the RAM the boot loader reported, managing memory in 1 KiB units
// across exactly three orders (1 KiB, 4 KiB, 16 KiB) with a four-way
// split/coalesce at every level. Grounded on the original kernel's
// kernel/memory/physicalalloc.cpp, which keeps one PhysicalPage descriptor
// per 1 KiB frame and a free list per PageOrder, splitting a page into its
// four _1KB/_4KB/_16KB buddies rather than two; the free-list/refcount
// bookkeeping style follows the teacher's address-space structuring
// (internal/hv/address_space.go).
package pmm

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

const (
	// PageSize is the allocator's base unit: one 1 KiB frame, the
	// smallest block the buddy allocator ever hands out. A 4 KiB MMU
	// page (vmm.PageSize) is an order-1 allocation of four frames.
	PageSize = 1024
	// MaxOrder is the root order: 16 KiB, four 4 KiB buddies, which
	// physicalalloc.cpp never coalesces past (order2addr(_16KB) has no
	// bigger_order).
	MaxOrder = 2
)

// Frame identifies one 1 KiB physical page by index from the start of
// managed RAM.
type Frame uint32

// blockFrames returns how many 1 KiB frames an order-N block spans: 1, 4,
// or 16, the four-way radix the original's PageOrder enum encodes.
func blockFrames(order int) int { return 1 << uint(2*order) }

// Page is the descriptor the allocator keeps for every managed frame.
type Page struct {
	refs   *ksync.Counter
	order  int8 // -1 when free; otherwise the order of the allocation this page is the head of
	inFree bool
}

// Allocator is a buddy allocator over a contiguous run of physical frames.
// Not safe for concurrent use without external locking — callers take
// ksync.Spinlock around Allocate/Free, the same way the original kernel
// only calls into physical_page_alloc/free with interrupts masked.
type Allocator struct {
	base      Frame
	pages     []Page
	freeLists [MaxOrder + 1][]Frame
}

// New builds an Allocator managing nFrames 1 KiB frames starting at base.
func New(base Frame, nFrames int) *Allocator {
	a := &Allocator{
		base:  base,
		pages: make([]Page, nFrames),
	}
	for i := range a.pages {
		a.pages[i].order = -1
	}

	// Greedily carve the managed range into the largest aligned blocks
	// that fit, the same strategy physical_page_allocator_init uses when
	// seeding g_free_pages_lists[_16KB] from whatever is left after the
	// page descriptor array, except here leftover tail frames that can't
	// form a full 16 KiB run fall back to 4 KiB or 1 KiB blocks instead
	// of being discarded.
	i := 0
	for i < nFrames {
		order := MaxOrder
		for order > 0 {
			blockSize := blockFrames(order)
			if i%blockSize == 0 && i+blockSize <= nFrames {
				break
			}
			order--
		}
		a.markFree(Frame(i), order)
		i += blockFrames(order)
	}
	return a
}

func (a *Allocator) markFree(f Frame, order int) {
	idx := a.index(f)
	a.pages[idx].order = int8(order)
	a.pages[idx].inFree = true
	a.freeLists[order] = append(a.freeLists[order], f)
}

func (a *Allocator) index(f Frame) int { return int(f) - int(a.base) }

// Allocate returns the base frame of an order-sized block (1, 4, or 16
// frames), refcounted to 1, or an error if no free block of that order —
// after splitting larger ones down — is available. Mirrors
// _physical_page_alloc: climb to the smallest free order at or above the
// request, then repeatedly split_page_in_smaller_chunks on the way back
// down.
func (a *Allocator) Allocate(order int) (Frame, error) {
	if order < 0 || order > MaxOrder {
		return 0, fmt.Errorf("pmm: invalid order %d", order)
	}

	found := order
	for found <= MaxOrder && len(a.freeLists[found]) == 0 {
		found++
	}
	if found > MaxOrder {
		return 0, fmt.Errorf("pmm: out of memory for order %d", order)
	}

	block := a.popFree(found)
	for found > order {
		sub := found - 1
		size := blockFrames(sub)
		for i := 1; i < 4; i++ {
			a.markFree(block+Frame(i*size), sub)
		}
		found = sub
	}

	idx := a.index(block)
	a.pages[idx].order = int8(order)
	a.pages[idx].inFree = false
	a.pages[idx].refs = ksync.NewCounter(1)
	return block, nil
}

func (a *Allocator) popFree(order int) Frame {
	list := a.freeLists[order]
	f := list[len(list)-1]
	a.freeLists[order] = list[:len(list)-1]
	return f
}

// Free releases the block starting at f. It must be the head frame
// returned by a prior Allocate, and the caller must hold its last
// reference (refcount 1) or have already dropped it to zero via Unref; a
// block with more than one live reference is rejected.
func (a *Allocator) Free(f Frame) error {
	idx := a.index(f)
	if idx < 0 || idx >= len(a.pages) {
		return fmt.Errorf("pmm: frame %d out of range", f)
	}
	page := &a.pages[idx]
	if page.inFree {
		return fmt.Errorf("pmm: double free of frame %d", f)
	}
	if page.refs != nil && page.refs.Load() > 1 {
		return fmt.Errorf("pmm: freeing frame %d with %d live references", f, page.refs.Load())
	}

	order := int(page.order)
	page.refs = nil
	a.coalesce(f, order)
	return nil
}

// coalesce mirrors _physical_page_free: at the root order a freed block
// always just rejoins the free list. Below the root, it inspects the
// other three buddies in its aligned group of four; only when all four
// are free does it pull them out of the free list and recurse one order
// up, the four-way analogue of physicalalloc.cpp's all_buddies_free scan.
func (a *Allocator) coalesce(f Frame, order int) {
	if order >= MaxOrder {
		a.markFree(f, order)
		return
	}

	size := blockFrames(order)
	rel := int(f - a.base)
	groupBase := rel - (rel % (4 * size))
	first := a.base + Frame(groupBase)

	allFree := true
	for i := 0; i < 4; i++ {
		bf := first + Frame(i*size)
		if bf == f {
			continue
		}
		bIdx := a.index(bf)
		if bIdx < 0 || bIdx >= len(a.pages) || !a.pages[bIdx].inFree || int(a.pages[bIdx].order) != order {
			allFree = false
			break
		}
	}

	if !allFree {
		a.markFree(f, order)
		return
	}

	for i := 0; i < 4; i++ {
		bf := first + Frame(i*size)
		a.removeFromFreeList(order, bf)
		a.pages[a.index(bf)].inFree = false
	}
	a.coalesce(first, order+1)
}

func (a *Allocator) removeFromFreeList(order int, f Frame) {
	list := a.freeLists[order]
	for i, v := range list {
		if v == f {
			a.freeLists[order] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Ref increments the refcount of the allocation owning f.
func (a *Allocator) Ref(f Frame) {
	idx := a.index(f)
	a.pages[idx].refs.Inc()
}

// Unref decrements the refcount of the allocation owning f, returning true
// if it reached zero (the caller should then call Free).
func (a *Allocator) Unref(f Frame) bool {
	idx := a.index(f)
	return a.pages[idx].refs.Dec() == 0
}

// Stats reports free-block counts per order and total managed frames, for
// diagnostics and for tests of the allocator's conservation invariant.
type Stats struct {
	FreeByOrder [MaxOrder + 1]int
	TotalFrames int
}

func (a *Allocator) Stats() Stats {
	var s Stats
	s.TotalFrames = len(a.pages)
	for order, list := range a.freeLists {
		s.FreeByOrder[order] = len(list)
	}
	return s
}

// FreeFrames returns the total number of individual 1 KiB frames currently
// free, across all orders.
func (s Stats) FreeFrames() int {
	total := 0
	for order, count := range s.FreeByOrder {
		total += count * blockFrames(order)
	}
	return total
}
