package vmm

import (
	"fmt"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/ksync"
)

// PageSource allocates and frees the physical page frames an AddressSpace
// needs for its own L1/L2 tables and for mapped pages, so this package
// stays independent of the concrete pmm.Allocator type and is testable
// against a fake.
type PageSource interface {
	AllocPage() (phys uint32, err error)
	FreePage(phys uint32) error
}

// AddressSpace is one process' (or the kernel's) virtual-to-physical
// mapping, expressed as a software L1 table plus lazily allocated L2
// tables. Named and shaped after the teacher's own AddressSpace type
// (internal/hv/address_space.go), generalized here from an MMIO region
// allocator into a full paging structure.
type AddressSpace struct {
	mu     ksync.Mutex
	pages  PageSource
	l1     [L1Entries]l1Entry
	kernel *AddressSpace // nil for the canonical kernel address space itself
}

// NewAddressSpace creates an empty address space with no mappings.
func NewAddressSpace(pages PageSource) *AddressSpace {
	return &AddressSpace{pages: pages}
}

// NewAddressSpaceSplit creates a new address space and eagerly copies the
// kernel-half L1 entries (indices for VA >= KernelHalfBase) from kernel, so
// every address space maps the kernel identically without needing the
// demand-fault repair path on the common case. The repair path (see
// fault.go) still exists for defense in depth, per the design note this
// mirrors.
func NewAddressSpaceSplit(pages PageSource, kernel *AddressSpace) *AddressSpace {
	as := NewAddressSpace(pages)
	as.kernel = kernel
	kernel.mu.Lock()
	defer kernel.mu.Unlock()
	start := l1Index(KernelHalfBase)
	for i := start; i < L1Entries; i++ {
		as.l1[i] = kernel.l1[i]
	}
	return as
}

// MapPage installs a 4 KiB mapping from va to phys with the given
// permissions, allocating an L2 table on demand if this is the first
// mapping in that 1 MiB section.
func (as *AddressSpace) MapPage(va uint32, phys uint32, perm Permission) error {
	if va%PageSize != 0 || phys%PageSize != 0 {
		return fmt.Errorf("vmm: unaligned mapping va=%#x phys=%#x", va, phys)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	l1i := l1Index(va)
	entry := &as.l1[l1i]
	switch entry.kind {
	case l1Fault:
		l2t := &l2Table{}
		entry.kind = l1PageTable
		entry.l2 = l2t
	case l1Section:
		return fmt.Errorf("vmm: va %#x falls inside an existing 1MiB section mapping", va)
	case l1PageTable:
		// already has an L2 table
	}

	l2i := l2Index(va)
	entry.l2.entries[l2i] = l2Entry{valid: true, perm: perm, phys: phys}
	return nil
}

// UnmapPage removes a single 4 KiB mapping. It is not an error to unmap an
// address that was never mapped.
func (as *AddressSpace) UnmapPage(va uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()

	entry := &as.l1[l1Index(va)]
	if entry.kind != l1PageTable {
		return
	}
	entry.l2.entries[l2Index(va)] = l2Entry{}
}

// Translate performs a read-only page-table walk, returning the physical
// address and permission bits for va, or ok=false if unmapped.
func (as *AddressSpace) Translate(va uint32) (phys uint32, perm Permission, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.translateLocked(va)
}

func (as *AddressSpace) translateLocked(va uint32) (uint32, Permission, bool) {
	entry := &as.l1[l1Index(va)]
	switch entry.kind {
	case l1Section:
		off := va & (SectionSize - 1)
		return entry.phys + off, entry.perm, true
	case l1PageTable:
		l2e := entry.l2.entries[l2Index(va)]
		if !l2e.valid {
			return 0, 0, false
		}
		return l2e.phys + pageOffset(va), l2e.perm, true
	default:
		return 0, 0, false
	}
}

// Protect rewrites the permission bits of an existing 4 KiB mapping
// in-place without unmapping it, used by execve to drop write permission
// from segments after their contents have been copied in (load writable,
// then enforce W^X).
func (as *AddressSpace) Protect(va uint32, perm Permission) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	entry := &as.l1[l1Index(va)]
	switch entry.kind {
	case l1PageTable:
		l2i := l2Index(va)
		if !entry.l2.entries[l2i].valid {
			return fmt.Errorf("vmm: cannot protect unmapped page %#x", va)
		}
		entry.l2.entries[l2i].perm = perm
		return nil
	case l1Section:
		entry.perm = perm
		return nil
	default:
		return fmt.Errorf("vmm: cannot protect unmapped page %#x", va)
	}
}

// MapSection installs a 1 MiB section mapping, used for the kernel's own
// identity/higher-half mappings established at boot rather than for
// per-process demand paging.
func (as *AddressSpace) MapSection(va, phys uint32, perm Permission) error {
	if va%SectionSize != 0 || phys%SectionSize != 0 {
		return fmt.Errorf("vmm: unaligned section mapping va=%#x phys=%#x", va, phys)
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	l1i := l1Index(va)
	if as.l1[l1i].kind != l1Fault {
		return fmt.Errorf("vmm: section slot %#x already in use", va)
	}
	as.l1[l1i] = l1Entry{kind: l1Section, perm: perm, phys: phys, wired: true}
	return nil
}
