package mm

import (
	"errors"
	"testing"
	"unsafe"
)

// fakeHeap backs a heap region with real memory so pointer writes in
// TemporaryFree/PermanentAllocate land somewhere valid, mirroring how
// gokvm's memory package tests guest memory against a plain []byte
// (see _examples/bobuhiro11-gokvm/memory/memory.go).
func fakeHeap(t *testing.T, size int) (bottom, limit uintptr) {
	t.Helper()
	buf := make([]byte, size)
	t.Cleanup(func() { _ = buf })
	base := uintptr(unsafe.Pointer(&buf[0]))
	return base, base + uintptr(size)
}

func TestPermanentAllocateAlignedAndBounded(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+1<<20)
	a := New(bottom, limit)

	addr, err := a.PermanentAllocate(100)
	if err != nil {
		t.Fatalf("PermanentAllocate: %v", err)
	}
	if addr%pageSize != 0 {
		t.Fatalf("address %#x not page-aligned", addr)
	}
	if addr+pageSize > a.HeapLimit() {
		t.Fatalf("allocation crosses heap limit")
	}
}

func TestPermanentAllocateZeroSize(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+1<<20)
	a := New(bottom, limit)

	before := a.permNext
	addr, err := a.PermanentAllocate(0)
	if err != nil {
		t.Fatalf("PermanentAllocate(0): %v", err)
	}
	if addr%pageSize != 0 {
		t.Fatalf("zero-size allocation must still be page-aligned")
	}
	if a.permNext != before+pageSize {
		t.Fatalf("zero-size allocation should advance by exactly one page of padding")
	}
}

func TestPermanentAllocateOverflowIsFatal(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+pageSize)
	a := New(bottom, limit)

	if _, err := a.PermanentAllocate(pageSize); err != nil {
		t.Fatalf("first allocation should fit: %v", err)
	}
	if _, err := a.PermanentAllocate(pageSize); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestTemporaryAllocateExhaustionFailsAtBoundary(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+1<<20)
	a := New(bottom, limit)

	n := 0
	for {
		if _, err := a.TemporaryAllocate(pageSize); err != nil {
			if !errors.Is(err, ErrOverflow) {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		n++
		if n > temporaryArenaSize/pageSize+2 {
			t.Fatal("temporary arena never reported overflow")
		}
	}
	if n != temporaryArenaSize/pageSize {
		t.Fatalf("expected exactly %d allocations before overflow, got %d", temporaryArenaSize/pageSize, n)
	}
}

func TestTemporaryFreeListReusedBeforeBumpAdvances(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+1<<20)
	a := New(bottom, limit)

	first, err := a.TemporaryAllocate(pageSize)
	if err != nil {
		t.Fatalf("TemporaryAllocate: %v", err)
	}
	bumpAfterFirst := a.tempNext

	a.TemporaryFree(first, pageSize)

	second, err := a.TemporaryAllocate(pageSize)
	if err != nil {
		t.Fatalf("TemporaryAllocate: %v", err)
	}
	if second != first {
		t.Fatalf("expected freed block to be reused, got new address %#x vs freed %#x", second, first)
	}
	if a.tempNext != bumpAfterFirst {
		t.Fatalf("bump pointer should not have advanced when reusing a free block")
	}
}

func TestTemporaryFreeListLIFO(t *testing.T) {
	bottom, limit := fakeHeap(t, temporaryArenaSize+1<<20)
	a := New(bottom, limit)

	first, _ := a.TemporaryAllocate(pageSize)
	second, _ := a.TemporaryAllocate(pageSize)

	a.TemporaryFree(first, pageSize)
	a.TemporaryFree(second, pageSize)

	// LIFO: the most recently freed block (second) comes back first.
	got, _ := a.TemporaryAllocate(pageSize)
	if got != second {
		t.Fatalf("expected LIFO reuse order, got %#x want %#x", got, second)
	}
}
