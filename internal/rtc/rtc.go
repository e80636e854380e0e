// Package rtc reads the PL031 real-time clock's data register. It is
// not a driver in any fuller sense — no alarm, no interrupt, no
// control-register writes — just the one raw register read klog uses
// to timestamp log lines, per SPEC_FULL.md §4's PL031 supplement.
package rtc

import "github.com/craybond/craybond/internal/volatile"

// drOffset is PL031's RTCDR, a free-running 32-bit seconds-since-epoch
// counter that needs no setup to read.
const drOffset = 0x00

// Clock wraps the PL031 MMIO window mapped by mapKernelRegions.
type Clock struct {
	win volatile.Window
}

// New describes the PL031 window at base (spec.md §4.3 maps this
// device-memory page already; New just gives it a typed reader).
func New(base uintptr) Clock {
	return Clock{win: volatile.NewWindow(base, 0x1000)}
}

// Now reads RTCDR: whole seconds since the PL031's epoch, as QEMU's
// "virt" machine seeds it from the host clock at startup.
func (c Clock) Now() uint32 {
	return c.win.Read32(drOffset)
}
