package vmm

import (
	"fmt"
	"testing"
)

type fakePageSource struct {
	next  uint32
	freed []uint32
}

func (f *fakePageSource) AllocPage() (uint32, error) {
	f.next += PageSize
	return f.next, nil
}

func (f *fakePageSource) FreePage(phys uint32) error {
	f.freed = append(f.freed, phys)
	return nil
}

func TestMapAndTranslatePage(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	if err := as.MapPage(0x1000, 0x80000, PermRead|PermWrite); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	phys, perm, ok := as.Translate(0x1000)
	if !ok {
		t.Fatalf("expected translation to succeed")
	}
	if phys != 0x80000 {
		t.Fatalf("phys = %#x, want 0x80000", phys)
	}
	if perm != PermRead|PermWrite {
		t.Fatalf("perm = %v, want RW", perm)
	}
}

func TestTranslateOffsetWithinPage(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	as.MapPage(0x2000, 0x90000, PermRead)

	phys, _, ok := as.Translate(0x2123)
	if !ok || phys != 0x90123 {
		t.Fatalf("Translate(0x2123) = %#x, %v; want 0x90123, true", phys, ok)
	}
}

func TestUnmapPageMakesTranslationFail(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	as.MapPage(0x3000, 0xA0000, PermRead)
	as.UnmapPage(0x3000)

	if _, _, ok := as.Translate(0x3000); ok {
		t.Fatalf("expected translation to fail after unmap")
	}
}

func TestProtectChangesPermissionsInPlace(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	as.MapPage(0x4000, 0xB0000, PermRead|PermWrite)

	if err := as.Protect(0x4000, PermRead); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	_, perm, _ := as.Translate(0x4000)
	if perm != PermRead {
		t.Fatalf("perm after Protect = %v, want read-only", perm)
	}
}

func TestNewAddressSpaceSplitInheritsKernelHalf(t *testing.T) {
	kernel := NewAddressSpace(&fakePageSource{})
	if err := kernel.MapSection(KernelHalfBase, 0x40000000, PermRead|PermExec); err != nil {
		t.Fatalf("MapSection: %v", err)
	}

	child := NewAddressSpaceSplit(&fakePageSource{}, kernel)
	phys, _, ok := child.Translate(KernelHalfBase + 0x10)
	if !ok || phys != 0x40000010 {
		t.Fatalf("child translate of kernel half = %#x, %v; want 0x40000010, true", phys, ok)
	}
}

func TestHandleFaultRepairsLateKernelMapping(t *testing.T) {
	kernel := NewAddressSpace(&fakePageSource{})
	child := NewAddressSpaceSplit(&fakePageSource{}, kernel)

	// Kernel gains a new section mapping after the child was created.
	if err := kernel.MapSection(KernelHalfBase+SectionSize, 0x50000000, PermRead); err != nil {
		t.Fatalf("MapSection: %v", err)
	}

	kind, err := child.HandleFault(KernelHalfBase+SectionSize+4, false)
	if err != nil {
		t.Fatalf("HandleFault: %v", err)
	}
	if kind != FaultKernelRepaired {
		t.Fatalf("FaultKind = %v, want FaultKernelRepaired", kind)
	}

	phys, _, ok := child.Translate(KernelHalfBase + SectionSize + 4)
	if !ok || phys != 0x50000004 {
		t.Fatalf("translate after repair = %#x, %v; want 0x50000004, true", phys, ok)
	}
}

func TestHandleFaultReportsUnmappedUserAddress(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	if _, err := as.HandleFault(0x1000, false); err == nil {
		t.Fatalf("expected error for unmapped user address")
	}
}

func TestHandleFaultReportsWriteToReadOnlyPage(t *testing.T) {
	as := NewAddressSpace(&fakePageSource{})
	as.MapPage(0x1000, 0x80000, PermRead)

	kind, err := as.HandleFault(0x1000, true)
	if err == nil {
		t.Fatalf("expected permission error")
	}
	if kind != FaultPermission {
		t.Fatalf("FaultKind = %v, want FaultPermission", kind)
	}
}

func TestCopyIntoDuplicatesUserPages(t *testing.T) {
	src := NewAddressSpace(&fakePageSource{next: 0x10000})
	src.MapPage(0x1000, 0x20000, PermRead|PermWrite)
	src.MapPage(0x2000, 0x21000, PermRead)

	dstPages := &fakePageSource{next: 0x90000}
	dst := NewAddressSpace(dstPages)

	var copied []string
	err := src.CopyInto(dst, func(dstPhys, srcPhys uint32) {
		copied = append(copied, fmt.Sprintf("%#x<-%#x", dstPhys, srcPhys))
	})
	if err != nil {
		t.Fatalf("CopyInto: %v", err)
	}
	if len(copied) != 2 {
		t.Fatalf("expected 2 pages copied, got %d: %v", len(copied), copied)
	}

	phys1, perm1, ok := dst.Translate(0x1000)
	if !ok || perm1 != (PermRead|PermWrite) {
		t.Fatalf("dst translate 0x1000 = %#x %v %v", phys1, perm1, ok)
	}
	if phys1 == 0x20000 {
		t.Fatalf("expected a freshly allocated physical page, not the source's")
	}

	_, perm2, ok := dst.Translate(0x2000)
	if !ok || perm2 != PermRead {
		t.Fatalf("dst translate 0x2000 perm = %v, want read-only", perm2)
	}
}

func TestCopyIntoSkipsKernelHalf(t *testing.T) {
	kernel := NewAddressSpace(&fakePageSource{})
	kernel.MapSection(KernelHalfBase, 0x40000000, PermRead)

	src := NewAddressSpaceSplit(&fakePageSource{next: 0x10000}, kernel)
	src.MapPage(0x1000, 0x20000, PermRead)

	dst := NewAddressSpace(&fakePageSource{next: 0x90000})
	copies := 0
	src.CopyInto(dst, func(_, _ uint32) { copies++ })

	if copies != 1 {
		t.Fatalf("expected only the single user page to be copied, got %d", copies)
	}
}
