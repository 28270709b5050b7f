package proc

import (
	"sync"
	"testing"

	"github.com/mrkct/pi0-os-sub000/internal/kernel/vmm"
)

type fakePages struct{ next uint32 }

func (f *fakePages) AllocPage() (uint32, error) {
	f.next += vmm.PageSize
	return f.next, nil
}
func (f *fakePages) FreePage(uint32) error { return nil }

func TestForkDuplicatesAddressSpaceIndependently(t *testing.T) {
	parentPages := &fakePages{next: 0x10000}
	parentSpace := vmm.NewAddressSpace(parentPages)
	parentSpace.MapPage(0x1000, 0x20000, vmm.PermRead|vmm.PermWrite)
	parent := NewProcess(1, parentSpace, nil)

	childPages := &fakePages{next: 0x90000}
	child, err := Fork(parent, 2, childPages, func(dst, src uint32) {})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	childPhys, _, ok := child.Space.Translate(0x1000)
	if !ok {
		t.Fatalf("expected child to have the parent's mapping")
	}

	parentSpace.MapPage(0x2000, 0x30000, vmm.PermRead)
	if _, _, ok := child.Space.Translate(0x2000); ok {
		t.Fatalf("child address space should not see mappings made after fork")
	}
	if childPhys == 0x20000 {
		t.Fatalf("expected child to get a distinct physical page, not share the parent's")
	}
}

func TestExitWakesBlockedWaiter(t *testing.T) {
	p := NewProcess(1, nil, nil)

	var wg sync.WaitGroup
	var gotCode int
	wg.Add(1)
	go func() {
		defer wg.Done()
		gotCode = p.WaitExit()
	}()

	p.Exit(7)
	wg.Wait()

	if gotCode != 7 {
		t.Fatalf("WaitExit() = %d, want 7", gotCode)
	}
}

func TestWaitExitReturnsImmediatelyIfAlreadyZombie(t *testing.T) {
	p := NewProcess(1, nil, nil)
	p.Exit(3)

	if got := p.WaitExit(); got != 3 {
		t.Fatalf("WaitExit() = %d, want 3", got)
	}
}
