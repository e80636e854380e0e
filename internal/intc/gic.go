// Package intc drives the GICv2 distributor/CPU-interface pair and
// the ARM generic physical timer, per spec.md §4.4. It is grounded on
// mazboot's gic_qemu.go register layout.
package intc

import "github.com/craybond/craybond/internal/volatile"

// Distributor register offsets.
const (
	gicdCTLR       = 0x000
	gicdISENABLERn = 0x100
	gicdICPENDRn   = 0x280
	gicdIPRIORITYn = 0x400
	gicdITARGETSn  = 0x800
)

// CPU-interface register offsets, relative to the CPU interface base
// (distributor base + 0x10000 on the GICv2 QEMU "virt" layout).
const (
	gicc_CTLR = 0x000
	gicc_PMR  = 0x004
	gicc_IAR  = 0x00C
	gicc_EOIR = 0x010
)

// TimerIRQ is the private-peripheral-interrupt ID for the physical
// timer, per spec.md §2/§4.4.
const TimerIRQ = 30

// priorityMask is written to GICC_PMR before re-enabling the CPU
// interface, per spec.md §4.4.
const priorityMask = 0xF0

// GIC owns the distributor and CPU-interface register windows. One
// instance exists for the kernel's lifetime.
type GIC struct {
	dist volatile.Window
	cpu  volatile.Window
}

// New wraps the distributor and CPU-interface MMIO windows. Both must
// already be mapped as device memory, EL1-only (spec.md §4.3).
func New(distBase, cpuBase uintptr) *GIC {
	return &GIC{
		dist: volatile.NewWindow(distBase, 0x1000),
		cpu:  volatile.NewWindow(cpuBase, 0x1000),
	}
}

// Init disables the distributor and CPU interface, enables the
// private timer interrupt targeted at CPU 0 with priority 0, sets the
// priority mask, then re-enables both, in the order spec.md §4.4
// requires.
func (g *GIC) Init() {
	g.dist.Write32(gicdCTLR, 0)
	g.cpu.Write32(gicc_CTLR, 0)

	// INTID 30 lives in word (30/32)=0, bit 30 of ISENABLER0.
	word := (TimerIRQ / 32) * 4
	bit := uint32(1) << (TimerIRQ % 32)
	g.dist.Write32(gicdISENABLERn+uintptr(word), bit)

	// Priority registers are byte-indexed, one byte per INTID.
	g.dist.Write8(gicdIPRIORITYn+TimerIRQ, 0)

	// Target CPU 0: byte-indexed, one byte per INTID, bit 0 = CPU 0.
	g.dist.Write8(gicdITARGETSn+TimerIRQ, 0x01)

	g.cpu.Write32(gicc_PMR, priorityMask)

	g.cpu.Write32(gicc_CTLR, 1)
	g.dist.Write32(gicdCTLR, 1)
}

// Acknowledge reads IAR, returning the acknowledged interrupt ID.
func (g *GIC) Acknowledge() uint32 {
	return g.cpu.Read32(gicc_IAR) & 0x3FF
}

// EndOfInterrupt writes the acknowledged ID back to EOIR.
func (g *GIC) EndOfInterrupt(id uint32) {
	g.cpu.Write32(gicc_EOIR, id)
}
