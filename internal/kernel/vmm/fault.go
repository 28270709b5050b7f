package vmm

import "fmt"

// FaultKind classifies a data/prefetch abort for the scheduler and process
// lifecycle code to act on.
type FaultKind int

const (
	FaultUnmapped FaultKind = iota
	FaultPermission
	FaultKernelRepaired
)

// HandleFault is the first stop for a data/prefetch abort. When the fault
// is on a kernel-half address whose canonical L1 entry exists in the
// global kernel address space but is missing from this process (a race
// between a late kernel mapping and NewAddressSpaceSplit's snapshot at
// process-creation time), it repairs the single L1 entry from the kernel
// address space and returns FaultKernelRepaired so the faulting
// instruction can simply be retried. Any other fault is reported for the
// process lifecycle's SIGSEGV-equivalent handling.
func (as *AddressSpace) HandleFault(va uint32, wantWrite bool) (FaultKind, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	l1i := l1Index(va)
	if va >= KernelHalfBase && as.kernel != nil && as.l1[l1i].kind == l1Fault {
		as.kernel.mu.Lock()
		kernelEntry := as.kernel.l1[l1i]
		as.kernel.mu.Unlock()

		if kernelEntry.kind != l1Fault {
			as.l1[l1i] = kernelEntry
			return FaultKernelRepaired, nil
		}
	}

	phys, perm, ok := as.translateLocked(va)
	if !ok {
		return FaultUnmapped, fmt.Errorf("vmm: unmapped access to %#x", va)
	}
	if wantWrite && perm&PermWrite == 0 {
		return FaultPermission, fmt.Errorf("vmm: write to read-only page %#x (phys %#x)", va, phys)
	}
	if perm == PermNone {
		return FaultPermission, fmt.Errorf("vmm: access to inaccessible page %#x", va)
	}
	return FaultUnmapped, fmt.Errorf("vmm: unexpected fault state at %#x", va)
}

// CopyInto duplicates every user-half mapping (va < KernelHalfBase) from as
// into dst, allocating fresh physical pages from dst's PageSource and
// copying their contents via copyPage. This implements the eager-copy fork
// strategy: every writable page is duplicated up front rather than shared
// copy-on-write, trading some duplicated work for not needing a COW fault
// path at all.
func (as *AddressSpace) CopyInto(dst *AddressSpace, copyPage func(dstPhys, srcPhys uint32)) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for l1i := 0; l1i < l1Index(KernelHalfBase); l1i++ {
		entry := as.l1[l1i]
		if entry.kind != l1PageTable {
			continue
		}
		for l2i, l2e := range entry.l2.entries {
			if !l2e.valid {
				continue
			}
			newPhys, err := dst.pages.AllocPage()
			if err != nil {
				return fmt.Errorf("vmm: fork copy: %w", err)
			}
			copyPage(newPhys, l2e.phys)

			va := uint32(l1i)<<20 | uint32(l2i)<<12
			dst.mu.Lock()
			dstEntry := &dst.l1[l1i]
			if dstEntry.kind == l1Fault {
				dstEntry.kind = l1PageTable
				dstEntry.l2 = &l2Table{}
			}
			dstEntry.l2.entries[l2i] = l2Entry{valid: true, perm: l2e.perm, phys: newPhys}
			dst.mu.Unlock()
			_ = va
		}
	}
	return nil
}
