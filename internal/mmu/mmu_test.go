package mmu

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
)

func newTestTables(t *testing.T) *Tables {
	t.Helper()

	var root table
	t.Cleanup(func() { _ = root })

	heap := make([]byte, 8<<20)
	t.Cleanup(func() { _ = heap })
	base := uintptr(unsafe.Pointer(&heap[0]))
	arena := mm.New(base, base+uintptr(len(heap)))

	return New(unsafe.Pointer(&root), arena)
}

func TestMap4KBWalkResolvesAndPermissions(t *testing.T) {
	tt := newTestTables(t)

	va := uint64(0x40000000)
	pa := uint64(0x80001000)

	if err := tt.Map4KB(va, pa, AttrNormal, LevelEL0); err != nil {
		t.Fatalf("Map4KB: %v", err)
	}

	gotPA, entry, ok := tt.Walk4(va)
	if !ok {
		t.Fatal("walk did not resolve a mapped address")
	}
	if gotPA != pa&^0xFFF {
		t.Fatalf("resolved pa %#x, want %#x", gotPA, pa&^0xFFF)
	}
	if entry&apEL0RW == 0 {
		t.Fatalf("EL0 mapping missing RW access-permission bits: %#x", entry)
	}
	if entry&peUXN != 0 {
		t.Fatalf("EL0 mapping must not set UXN, got %#x", entry)
	}
}

func TestMap4KBEL1DeniesEL0(t *testing.T) {
	tt := newTestTables(t)
	va := uint64(0x50000000)

	if err := tt.Map4KB(va, va, AttrDevice, LevelEL1); err != nil {
		t.Fatalf("Map4KB: %v", err)
	}

	_, entry, ok := tt.Walk4(va)
	if !ok {
		t.Fatal("walk did not resolve")
	}
	if entry&apEL1Only != apEL1Only {
		t.Fatalf("EL1 mapping should use the EL1-only AP encoding, got %#x", entry)
	}
	if entry&peUXN == 0 {
		t.Fatalf("EL1 mapping must set UXN, got %#x", entry)
	}
}

func TestMap2MBBlockEntry(t *testing.T) {
	tt := newTestTables(t)
	va := uint64(0x40000000)

	if err := tt.Map2MB(va, va, AttrNormal, LevelEL1); err != nil {
		t.Fatalf("Map2MB: %v", err)
	}

	_, entry, ok := tt.Walk4(va)
	if !ok {
		t.Fatal("walk did not resolve 2MiB block")
	}
	if entry&0b11 != 0b01 {
		t.Fatalf("level-2 block entry should have bits[1:0]=01, got %#b", entry&0b11)
	}
}

func TestMap4KBConflictKeepsOriginalMapping(t *testing.T) {
	tt := newTestTables(t)
	va := uint64(0x60001000)

	if err := tt.Map4KB(va, va, AttrNormal, LevelEL0); err != nil {
		t.Fatalf("first Map4KB: %v", err)
	}
	_, before, _ := tt.Walk4(va)

	err := tt.Map4KB(va, va+0x1000, AttrDevice, LevelEL1)
	if !errors.Is(err, ErrMappingConflict) {
		t.Fatalf("expected ErrMappingConflict, got %v", err)
	}

	_, after, _ := tt.Walk4(va)
	if before != after {
		t.Fatalf("conflicting remap must leave the original entry unchanged: before=%#x after=%#x", before, after)
	}
}

func TestMap4KBIdempotentSameParamsLeavesStateUnchanged(t *testing.T) {
	tt := newTestTables(t)
	va := uint64(0x70002000)

	if err := tt.Map4KB(va, va, AttrNormal, LevelEL0); err != nil {
		t.Fatalf("first Map4KB: %v", err)
	}
	_, before, _ := tt.Walk4(va)

	// Mapping with identical parameters a second time must leave state
	// unchanged (it may still report the conflict), per spec.md §8.
	_ = tt.Map4KB(va, va, AttrNormal, LevelEL0)
	_, after, _ := tt.Walk4(va)

	if before != after {
		t.Fatalf("idempotent re-map changed table state: before=%#x after=%#x", before, after)
	}
}

func TestMap4KBRejectsUnaligned(t *testing.T) {
	tt := newTestTables(t)
	if err := tt.Map4KB(0x1001, 0x2000, AttrNormal, LevelEL0); err == nil {
		t.Fatal("expected alignment error")
	}
}
