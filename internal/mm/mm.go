// Package mm implements the kernel's two bump allocators over the
// heap region the linker hands us (heap_bottom..heap_limit), per
// spec.md §3/§4.2: a temporary arena with a LIFO free list and a
// permanent arena that is never reclaimed.
package mm

import (
	"fmt"
	"unsafe"
)

const pageSize = 4096

// temporaryArenaSize is the fixed size of the temporary arena carved
// out of the front of the heap; everything past it belongs to the
// permanent arena.
const temporaryArenaSize = 5 * 1024 * 1024

// freeNode is written at the head of a returned temporary block,
// exactly the {next, size} layout spec.md §3 describes.
type freeNode struct {
	next uintptr
	size uintptr
}

// Arenas holds the bump pointers and free list for the kernel heap.
// Exactly one instance exists for the lifetime of the kernel; it is
// constructed once in boot and handed out as a capability rather than
// read through a package-level global (§9 redesign: collect global
// mutable state into an owned aggregate).
type Arenas struct {
	heapBottom uintptr
	heapLimit  uintptr

	tempBase uintptr
	tempNext uintptr
	tempEnd  uintptr // == permBase, the first byte owned by the permanent arena
	freeHead uintptr // address of the first freeNode, 0 if empty

	permBase uintptr
	permNext uintptr
}

// ErrOverflow is returned (and also used as the Fatal diagnostic,
// per spec.md §7.2) when an arena cannot satisfy a request.
var ErrOverflow = fmt.Errorf("allocator overflow")

// New carves a temporary arena of temporaryArenaSize bytes out of
// [heapBottom, heapLimit) and gives the remainder to the permanent
// arena. heapBottom and heapLimit come from the linker symbols
// heap_bottom/heap_limit (an external contract per spec.md §1).
func New(heapBottom, heapLimit uintptr) *Arenas {
	tempBase := roundUp(heapBottom, pageSize)
	permBase := roundUp(tempBase+temporaryArenaSize, pageSize)

	return &Arenas{
		heapBottom: heapBottom,
		heapLimit:  heapLimit,
		tempBase:   tempBase,
		tempNext:   tempBase,
		tempEnd:    permBase,
		permBase:   permBase,
		permNext:   permBase,
	}
}

func roundUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// PermanentAllocate returns a 4 KiB-aligned address of at least size
// bytes from the permanent arena. The pointer is never reclaimed.
// size 0 still advances by one page's worth of alignment padding at
// most and returns a valid, 4 KiB-aligned address (§8 boundary case).
func (a *Arenas) PermanentAllocate(size uintptr) (uintptr, error) {
	rounded := roundUp(size, pageSize)
	if rounded == 0 {
		rounded = pageSize
	}

	addr := roundUp(a.permNext, pageSize)
	if addr+rounded > a.heapLimit {
		return 0, fmt.Errorf("permanent allocator overflow at %#x requesting %d bytes: %w", addr, size, ErrOverflow)
	}

	a.permNext = addr + rounded
	return addr, nil
}

// TemporaryAllocate returns a 4 KiB-aligned address of at least size
// bytes from the temporary arena, preferring a free-list block of
// sufficient size over advancing the bump pointer (§8 invariant).
func (a *Arenas) TemporaryAllocate(size uintptr) (uintptr, error) {
	rounded := roundUp(size, pageSize)
	if rounded == 0 {
		rounded = pageSize
	}

	if addr, ok := a.takeFromFreeList(rounded); ok {
		return addr, nil
	}

	addr := roundUp(a.tempNext, pageSize)
	if addr+rounded > a.tempEnd {
		return 0, fmt.Errorf("temporary allocator overflow at %#x requesting %d bytes: %w", addr, size, ErrOverflow)
	}

	a.tempNext = addr + rounded
	return addr, nil
}

// takeFromFreeList walks the LIFO free list for the first block whose
// recorded size is >= need, unlinking and returning it. The list does
// not coalesce adjacent blocks; fragmentation is tolerated per
// spec.md §4.2, since temporary strings are call-scoped.
func (a *Arenas) takeFromFreeList(need uintptr) (uintptr, bool) {
	var prev uintptr
	cur := a.freeHead

	for cur != 0 {
		node := (*freeNode)(unsafe.Pointer(cur))
		if node.size >= need {
			if prev == 0 {
				a.freeHead = node.next
			} else {
				(*freeNode)(unsafe.Pointer(prev)).next = node.next
			}
			return cur, true
		}
		prev = cur
		cur = node.next
	}

	return 0, false
}

// TemporaryFree returns a block obtained from TemporaryAllocate to the
// free list, writing the {next, size} header at its head. Behavior is
// undefined if ptr did not come from this arena (spec.md §4.2).
func (a *Arenas) TemporaryFree(ptr uintptr, size uintptr) {
	rounded := roundUp(size, pageSize)
	if rounded == 0 {
		rounded = pageSize
	}

	node := (*freeNode)(unsafe.Pointer(ptr))
	node.next = a.freeHead
	node.size = rounded
	a.freeHead = ptr
}

// PermanentBase, TemporaryBase and TemporaryEnd expose the arena
// boundaries for diagnostics and for tests that want to assert on
// layout without reaching into package-private fields.
func (a *Arenas) PermanentBase() uintptr { return a.permBase }
func (a *Arenas) TemporaryBase() uintptr { return a.tempBase }
func (a *Arenas) TemporaryEnd() uintptr  { return a.tempEnd }
func (a *Arenas) HeapLimit() uintptr     { return a.heapLimit }
