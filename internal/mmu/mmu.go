// Package mmu builds the four-level AArch64 stage-1 translation table
// tree and programs MAIR/TCR/TTBR0/SCTLR, per spec.md §4.3. It never
// touches hardware directly outside of sysreg; the table-walk logic is
// plain Go over fixed-size arrays of page-table entries and is the
// same code whether it is walked by the MMU or by a unit test.
package mmu

import (
	"fmt"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/sysreg"
)

// Page-table entry bits, grounded on mazboot's mmu.go.
const (
	peValid = 1 << 0
	peTable = 1 << 1 // bits[1:0]==11 at every level: table descriptor (L0-L2) or page descriptor (L3)
	peAF    = 1 << 10
	peUXN   = 1 << 54
	peaPXN  = 1 << 53

	attrShift = 2 // MAIR index lives in bits [4:2]
	apShift   = 6 // access-permission bits [7:6]
	shShift   = 8 // shareability bits [9:8]

	shInner = 3 << shShift
)

// AttrIndex selects a MAIR_EL1 slot; spec.md §4.3 only needs two.
type AttrIndex uint64

const (
	AttrDevice AttrIndex = sysreg.AttrDevice
	AttrNormal AttrIndex = sysreg.AttrNormal
)

// Level selects the access-permission/XN policy for a mapping,
// per spec.md §4.3's three-way split.
type Level int

const (
	LevelEL0 Level = iota
	LevelEL1
	LevelShared
)

const (
	apEL0RW   = 1 << apShift // EL0/EL1 RW
	apEL1Only = 0 << apShift // EL1 RW, EL0 no access
	apEL0RO   = 2 << apShift // EL0/EL1 RO
)

func (l Level) permBits() uint64 {
	switch l {
	case LevelEL0:
		return apEL0RW // UXN=0, PXN=0
	case LevelEL1:
		return apEL1Only | peUXN // UXN=1, PXN=0
	case LevelShared:
		return apEL0RO // read-only at EL0
	default:
		panic(fmt.Sprintf("mmu: unknown level %d", l))
	}
}

const (
	pageSize  = 1 << 12
	blockSize = 1 << 21 // 2 MiB

	l0Shift = 39
	l1Shift = 30
	l2Shift = 21
	l3Shift = 12

	entryCount = 512
	tableMask  = uint64(entryCount - 1)

	outputAddrMask = uint64(0x0000FFFFFFFFF000) // bits [47:12]
)

// table is a single 512-entry, page-aligned translation table. The
// level-1 (root) table is statically allocated by the caller (spec.md
// §3: "a statically allocated level-1 table of 512 64-bit entries");
// every table below it comes from the permanent arena.
type table [entryCount]uint64

// Tables owns the translation-table tree built during boot. There is
// exactly one instance for the kernel's lifetime.
type Tables struct {
	root  *table
	arena *mm.Arenas
}

// ErrMappingConflict is returned (wrapped; test with errors.Is) when a
// mapping would land on an existing present entry: a 4 KiB page over
// an existing page or over a 2 MiB block, or a 2 MiB block over an
// existing entry (spec.md §3 invariant). The table is left unchanged.
var ErrMappingConflict = fmt.Errorf("mmu: mapping conflict")

// New wraps a statically allocated root table (512 entries, already
// zeroed and page-aligned by the linker/BSS) together with the
// permanent arena used for every table below it.
func New(root unsafe.Pointer, arena *mm.Arenas) *Tables {
	return &Tables{root: (*table)(root), arena: arena}
}

func indices(va uint64) (i0, i1, i2, i3 uint64) {
	return (va >> l0Shift) & tableMask,
		(va >> l1Shift) & tableMask,
		(va >> l2Shift) & tableMask,
		(va >> l3Shift) & tableMask
}

// descendTable returns the next-level table pointed to by entry i of
// t, allocating and zeroing a fresh one from the permanent arena (and
// linking it as a table descriptor) if none exists yet.
func (m *Tables) descendTable(t *table, i uint64) (*table, error) {
	e := t[i]
	if e&peValid != 0 {
		if e&peTable == 0 {
			return nil, fmt.Errorf("mmu: %w: entry %d is a block mapping, cannot descend", ErrMappingConflict, i)
		}
		return (*table)(unsafe.Pointer(uintptr(e & outputAddrMask))), nil
	}

	addr, err := m.arena.PermanentAllocate(pageSize)
	if err != nil {
		return nil, fmt.Errorf("mmu: allocating page table: %w", err)
	}

	child := (*table)(unsafe.Pointer(addr))
	for i := range child {
		child[i] = 0
	}

	t[i] = uint64(addr) | peValid | peTable
	return child, nil
}

// Map2MB installs a level-2 block mapping for a 2 MiB-aligned virtual
// address, per spec.md §4.3's map_2mb contract.
func (m *Tables) Map2MB(va, pa uint64, attr AttrIndex, level Level) error {
	if va%blockSize != 0 || pa%blockSize != 0 {
		return fmt.Errorf("mmu: Map2MB requires 2MiB-aligned va/pa, got va=%#x pa=%#x", va, pa)
	}

	i0, i1, i2, _ := indices(va)

	l1, err := m.descendTable(m.root, i0)
	if err != nil {
		return err
	}
	l2, err := m.descendTable(l1, i1)
	if err != nil {
		return err
	}

	if l2[i2]&peValid != 0 {
		return fmt.Errorf("mmu: %w: va %#x already mapped", ErrMappingConflict, va)
	}

	entry := (pa & ^uint64(blockSize-1)) | peValid | peAF | shInner |
		(uint64(attr) << attrShift) | level.permBits()
	// Level-2 block entries use bits[1:0] = 01: valid, not-table.
	l2[i2] = entry
	return nil
}

// Map4KB installs a level-4 page mapping, per spec.md §4.3's map_4kb
// contract. Re-mapping a present level-3 entry is rejected (the
// existing mapping is kept) and reported via ErrMappingConflict; the
// caller is expected to log it as a warning, not treat it as fatal.
func (m *Tables) Map4KB(va, pa uint64, attr AttrIndex, level Level) error {
	if va%pageSize != 0 || pa%pageSize != 0 {
		return fmt.Errorf("mmu: Map4KB requires 4KiB-aligned va/pa, got va=%#x pa=%#x", va, pa)
	}

	i0, i1, i2, i3 := indices(va)

	l1, err := m.descendTable(m.root, i0)
	if err != nil {
		return err
	}
	l2, err := m.descendTable(l1, i1)
	if err != nil {
		return err
	}
	l3, err := m.descendTable(l2, i2)
	if err != nil {
		return err
	}

	if l3[i3]&peValid != 0 {
		return fmt.Errorf("mmu: %w: va %#x already mapped", ErrMappingConflict, va)
	}

	entry := (pa & ^uint64(pageSize-1)) | peValid | peTable | peAF | shInner |
		(uint64(attr) << attrShift) | level.permBits()
	l3[i3] = entry
	return nil
}

// Walk4 performs the same table walk the hardware would for a 4 KiB
// granule, returning the resolved output address and the raw level-3
// entry so callers (and §8's testable properties) can assert on the
// AP/UXN/PXN bits without touching real hardware.
func (m *Tables) Walk4(va uint64) (pa uint64, entry uint64, ok bool) {
	i0, i1, i2, i3 := indices(va)

	e0 := m.root[i0]
	if e0&peValid == 0 || e0&peTable == 0 {
		return 0, 0, false
	}
	l1 := (*table)(unsafe.Pointer(uintptr(e0 & outputAddrMask)))

	e1 := l1[i1]
	if e1&peValid == 0 || e1&peTable == 0 {
		return 0, 0, false
	}
	l2 := (*table)(unsafe.Pointer(uintptr(e1 & outputAddrMask)))

	e2 := l2[i2]
	if e2&peValid == 0 {
		return 0, 0, false
	}
	if e2&peTable == 0 {
		// A 2 MiB block terminates the walk at level 2.
		return e2 & outputAddrMask, e2, true
	}
	l3 := (*table)(unsafe.Pointer(uintptr(e2 & outputAddrMask)))

	e3 := l3[i3]
	if e3&peValid == 0 {
		return 0, 0, false
	}
	return e3 & outputAddrMask, e3, true
}

// EnableStage1 programs MAIR/TCR/TTBR0 and enables stage-1 translation
// by setting the M bit in SCTLR_EL1, per spec.md §4.3.
func (m *Tables) EnableStage1() {
	// MAIR[0] = device-nGnRnE (0x00), MAIR[1] = normal non-cacheable (0x44).
	mair := uint64(0x00) | uint64(0x44)<<8
	sysreg.SetMAIREL1(mair)

	// T0SZ=T1SZ=16 (48-bit VA), inner-shareable, 4 KiB granule, both halves.
	var tcr uint64
	tcr |= 16 << 0  // T0SZ
	tcr |= 1 << 8   // IRGN0 = write-back
	tcr |= 1 << 10  // ORGN0 = write-back
	tcr |= 3 << 12  // SH0 = inner shareable
	tcr |= 16 << 16 // T1SZ
	tcr |= 1 << 23  // EPD1: disable TTBR1 walks, we never use it
	sysreg.SetTCREL1(tcr)

	sysreg.SetTTBR0EL1(uint64(uintptr(unsafe.Pointer(m.root))))

	sysreg.Isb()

	sctlr := sysreg.SCTLREL1()
	sctlr |= 1 << 0  // M: enable stage-1 translation
	sctlr &^= 1 << 2 // C: data cache off until we trust coherency
	sctlr &^= 1 << 12
	sysreg.Dsb()
	sysreg.SetSCTLREL1(sctlr)
	sysreg.Isb()
}

// AfterTableUpdate performs the barrier sequence required after any
// page-table write that happens post-enable (spec.md §5): DSB, TLB
// invalidate, DSB, ISB, plus an I-cache invalidate when code pages
// were touched.
func AfterTableUpdate(codeTouched bool) {
	sysreg.TLBIAll()
	if codeTouched {
		sysreg.ICInvalidateAll()
	}
}
