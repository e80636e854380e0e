// Package volatile gives every MMIO access in the kernel a single,
// typed choke point instead of scattering *(*uint32)(unsafe.Pointer(x))
// casts through every driver. A Window is a base address plus a length;
// every read/write is bounds-checked against that length and goes
// through Go's volatile-equivalent (a single load/store of the exact
// width requested, never split or coalesced by the compiler because it
// crosses an unsafe.Pointer boundary).
package volatile

import (
	"fmt"
	"unsafe"
)

// Window is a memory-mapped register window: some [Base, Base+Size)
// range that the MMU has mapped as device memory (§4.3). It never
// allocates and is safe to construct for a region before it is mapped,
// since no access happens until Read/Write is called.
type Window struct {
	base uintptr
	size uintptr
}

// ErrOutOfRange is returned when an access falls outside the window.
var ErrOutOfRange = fmt.Errorf("volatile: offset out of range")

// NewWindow describes a register window at a physical/virtual base
// address (the two coincide for every device window this kernel maps,
// since MMIO is identity-mapped) spanning size bytes.
func NewWindow(base, size uintptr) Window {
	return Window{base: base, size: size}
}

// Base returns the window's base address.
func (w Window) Base() uintptr { return w.base }

func (w Window) check(off, width uintptr) error {
	if off+width > w.size {
		return fmt.Errorf("%w: offset %#x width %d size %#x", ErrOutOfRange, off, width, w.size)
	}
	return nil
}

// Read32 loads a 32-bit register at byte offset off.
func (w Window) Read32(off uintptr) uint32 {
	if err := w.check(off, 4); err != nil {
		panic(err)
	}
	return *(*uint32)(unsafe.Pointer(w.base + off))
}

// Write32 stores a 32-bit register at byte offset off.
func (w Window) Write32(off uintptr, v uint32) {
	if err := w.check(off, 4); err != nil {
		panic(err)
	}
	*(*uint32)(unsafe.Pointer(w.base + off)) = v
}

// Read64 loads a 64-bit register at byte offset off.
func (w Window) Read64(off uintptr) uint64 {
	if err := w.check(off, 8); err != nil {
		panic(err)
	}
	return *(*uint64)(unsafe.Pointer(w.base + off))
}

// Write64 stores a 64-bit register at byte offset off.
func (w Window) Write64(off uintptr, v uint64) {
	if err := w.check(off, 8); err != nil {
		panic(err)
	}
	*(*uint64)(unsafe.Pointer(w.base + off)) = v
}

// Read8 loads a single byte at byte offset off.
func (w Window) Read8(off uintptr) uint8 {
	if err := w.check(off, 1); err != nil {
		panic(err)
	}
	return *(*uint8)(unsafe.Pointer(w.base + off))
}

// Write8 stores a single byte at byte offset off.
func (w Window) Write8(off uintptr, v uint8) {
	if err := w.check(off, 1); err != nil {
		panic(err)
	}
	*(*uint8)(unsafe.Pointer(w.base + off)) = v
}

// Read16 loads a 16-bit register at byte offset off.
func (w Window) Read16(off uintptr) uint16 {
	if err := w.check(off, 2); err != nil {
		panic(err)
	}
	return *(*uint16)(unsafe.Pointer(w.base + off))
}

// Write16 stores a 16-bit register at byte offset off.
func (w Window) Write16(off uintptr, v uint16) {
	if err := w.check(off, 2); err != nil {
		panic(err)
	}
	*(*uint16)(unsafe.Pointer(w.base + off)) = v
}

// Sub carves out a smaller window starting at off within w, used when a
// capability structure hands back a BAR-relative offset that itself
// becomes the base for a sub-register block (e.g. a VirtIO capability's
// offset into a PCI BAR).
func (w Window) Sub(off, size uintptr) (Window, error) {
	if err := w.check(off, size); err != nil {
		return Window{}, err
	}
	return Window{base: w.base + off, size: size}, nil
}
