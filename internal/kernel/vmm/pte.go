// Package vmm implements virtual memory management on top of the ARM
// short-descriptor two-level page table format: a 4096-entry L1 table
// addressing 1 MiB sections or pointing at a 256-entry L2 table of 4 KiB
// small pages. Grounded on iansmith-mazarin's mazboot
// (src/mazboot/golang/main/mmu.go) for the page-table bit-layout style,
// adapted from its aarch64 long-descriptor format down to the ARMv7 short
// descriptor this core targets, and on gopher-os' kernel/mem/vmm package
// for the AddressSpace/walk separation of concerns.
package vmm

// Permission is the access-permission triple a mapping carries, independent
// of the hardware encoding used to express it.
type Permission uint8

const (
	PermNone  Permission = 0
	PermRead  Permission = 1 << 0
	PermWrite Permission = 1 << 1
	PermExec  Permission = 1 << 2
	PermUser  Permission = 1 << 3
)

const (
	PageSize    = 4096
	SectionSize = 1 << 20 // 1 MiB, one L1 section
	L1Entries   = 4096
	L2Entries   = 256

	KernelHalfBase = 0xE0000000
)

// l1EntryKind distinguishes what an L1 slot currently holds.
type l1EntryKind uint8

const (
	l1Fault l1EntryKind = iota
	l1Section
	l1PageTable
)

// l1Entry is the software-side representation of one 1 MiB L1 slot; this
// package keeps no hardware short-descriptor bit encoding of it, so nothing
// here manipulates raw bits.
type l1Entry struct {
	kind  l1EntryKind
	perm  Permission
	phys  uint32 // section base, or L2 table physical address
	l2    *l2Table
	wired bool // true for L1 entries the kernel must never demand-fault away
}

type l2Entry struct {
	valid bool
	perm  Permission
	phys  uint32 // 4 KiB page base
}

type l2Table struct {
	entries [L2Entries]l2Entry
}

func l1Index(va uint32) int { return int(va >> 20) }
func l2Index(va uint32) int { return int((va >> 12) & 0xFF) }
func pageOffset(va uint32) uint32 { return va & (PageSize - 1) }
