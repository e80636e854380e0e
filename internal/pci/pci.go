// Package pci implements enough of PCI configuration-space access and
// capability discovery to find and configure a VirtIO device over
// ECAM, per spec.md §4.7. It is grounded on the teacher's ECAM offset
// arithmetic for the QEMU "virt" machine.
package pci

import (
	"fmt"

	"github.com/craybond/craybond/internal/volatile"
)

// VirtIO vendor/device IDs this kernel looks for (spec.md §4.7).
const (
	VirtIOVendorID  = 0x1AF4
	VirtIOGPUDevice = 0x1050
	VirtIORNGDevice = 0x1005
)

// Configuration-space offsets.
const (
	offVendorID     = 0x00
	offDeviceID     = 0x02
	offCommand      = 0x04
	offBAR0         = 0x10
	offCapabilities = 0x34
)

const commandMemorySpace = 1 << 1

// ECAM wraps the memory-mapped configuration-space window for one PCI
// segment, addressed as base + (bus<<20 | slot<<15 | func<<12 | offset).
type ECAM struct {
	base uintptr
}

// NewECAM wraps the ECAM base address obtained from firmware tables
// (or the hard-coded fallback, spec.md §4.7).
func NewECAM(base uintptr) *ECAM { return &ECAM{base: base} }

func (e *ECAM) window(bus, slot, fn uint8) volatile.Window {
	addr := e.base + uintptr(bus)<<20 + uintptr(slot)<<15 + uintptr(fn)<<12
	return volatile.NewWindow(addr, 1<<12)
}

// Function identifies one discovered PCI function and owns its
// configuration-space window for subsequent capability/BAR access.
type Function struct {
	Bus, Slot, Fn uint8
	cfg           volatile.Window
}

// Find scans bus 0 (QEMU virt places VirtIO devices there) for the
// given vendor/device pair, per spec.md §4.7's discovery step.
func (e *ECAM) Find(vendor, device uint16) (Function, bool) {
	for slot := uint8(0); slot < 32; slot++ {
		for fn := uint8(0); fn < 8; fn++ {
			cfg := e.window(0, slot, fn)
			v := cfg.Read16(offVendorID)
			if v == 0xFFFF {
				if fn == 0 {
					break
				}
				continue
			}
			d := cfg.Read16(offDeviceID)
			if v == vendor && d == device {
				return Function{Bus: 0, Slot: slot, Fn: fn, cfg: cfg}, true
			}
		}
	}
	return Function{}, false
}

// CapType enumerates the VirtIO vendor-specific capability structure
// types walked in spec.md §4.7.
type CapType uint8

const (
	CapCommon CapType = 1
	CapNotify CapType = 2
	CapISR    CapType = 3
	CapDevice CapType = 4
	CapPCICfg CapType = 5

	virtioVendorCapID = 0x09
)

// Capability is one parsed entry from the linked capability list.
type Capability struct {
	Type           CapType
	BAR            uint8
	Offset         uint32
	Length         uint32
	NotifyMultipl  uint32 // only meaningful for CapNotify
}

// WalkCapabilities follows the capability linked list starting at
// PCI_CAPABILITIES, returning every VirtIO vendor-specific (type 9)
// entry, per spec.md §4.7.
func (f *Function) WalkCapabilities() []Capability {
	var caps []Capability

	ptr := uint8(f.cfg.Read8(offCapabilities))
	seen := 0
	for ptr != 0 && seen < 64 {
		seen++
		id := f.cfg.Read8(uintptr(ptr))
		next := f.cfg.Read8(uintptr(ptr) + 1)

		if id == virtioVendorCapID {
			capType := CapType(f.cfg.Read8(uintptr(ptr) + 3))
			bar := uint8(f.cfg.Read8(uintptr(ptr) + 4))
			offset := f.cfg.Read32(uintptr(ptr) + 8)
			length := f.cfg.Read32(uintptr(ptr) + 12)

			cap := Capability{Type: capType, BAR: bar, Offset: offset, Length: length}
			if capType == CapNotify {
				cap.NotifyMultipl = f.cfg.Read32(uintptr(ptr) + 16)
			}
			caps = append(caps, cap)
		}

		ptr = uint8(next)
	}
	return caps
}

// ProbeBARSize size-probes a 32-bit memory BAR by writing all-ones and
// reading back, per spec.md §4.7: size = ^(value & ^0xF) + 1.
func (f *Function) ProbeBARSize(bar uint8) uint32 {
	off := uintptr(offBAR0) + uintptr(bar)*4
	orig := f.cfg.Read32(off)
	f.cfg.Write32(off, 0xFFFFFFFF)
	probed := f.cfg.Read32(off)
	f.cfg.Write32(off, orig)

	if probed == 0 {
		return 0
	}
	return ^(probed &^ 0xF) + 1
}

// AssignBAR writes confBase into the given BAR and re-enables memory
// decoding (command register bit 1), per spec.md §4.7.
func (f *Function) AssignBAR(bar uint8, confBase uint32) {
	off := uintptr(offBAR0) + uintptr(bar)*4
	f.cfg.Write32(off, confBase)

	cmd := f.cfg.Read16(offCommand)
	f.cfg.Write16(offCommand, cmd|commandMemorySpace)
}

// BARBase reads back a BAR's current configured base, masking off the
// type/prefetch bits.
func (f *Function) BARBase(bar uint8) uintptr {
	off := uintptr(offBAR0) + uintptr(bar)*4
	return uintptr(f.cfg.Read32(off) &^ 0xF)
}

func (c Capability) String() string {
	return fmt.Sprintf("type=%d bar=%d off=%#x len=%#x", c.Type, c.BAR, c.Offset, c.Length)
}
