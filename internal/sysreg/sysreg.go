// Package sysreg collects every inline-assembly concern of the kernel
// behind a handful of ordinary Go functions. Nothing above this package
// is allowed to emit raw system-register access or barriers directly;
// everything routes through here so the rest of the kernel reads like
// normal Go rather than assembly wearing a Go costume.
package sysreg

// MAIR_EL1 attribute indices programmed once at MMU init. Index 0 is
// device-nGnRnE, index 1 is normal non-cacheable, matching §4.3.
const (
	AttrDevice = 0
	AttrNormal = 1
)

// The I bit masks IRQs; it is bit 7 of DAIF as MRS/MSR DAIF read and
// write it (D=9, A=8, I=7, F=6). The kernel never touches FIQ/SError/Debug.
const daifIRQBit = 1 << 7

//go:noescape
func readDAIF() uint64

//go:noescape
func writeDAIF(v uint64)

//go:noescape
func readSCTLREL1() uint64

//go:noescape
func writeSCTLREL1(v uint64)

//go:noescape
func readTCREL1() uint64

//go:noescape
func writeTCREL1(v uint64)

//go:noescape
func readMAIREL1() uint64

//go:noescape
func writeMAIREL1(v uint64)

//go:noescape
func readTTBR0EL1() uint64

//go:noescape
func writeTTBR0EL1(v uint64)

//go:noescape
func writeVBAREL1(v uint64)

//go:noescape
func readESREL1() uint64

//go:noescape
func readELREL1() uint64

//go:noescape
func readFAREL1() uint64

//go:noescape
func readCNTFRQEL0() uint64

//go:noescape
func readCNTPCTEL0() uint64

//go:noescape
func writeCNTPTvalEL0(v uint64)

//go:noescape
func writeCNTPCtlEL0(v uint64)

//go:noescape
func dsbSY()

//go:noescape
func isb()

//go:noescape
func tlbiVMALLE1IS()

//go:noescape
func icIALLU()

//go:noescape
func wfi()

// DisableIRQs masks IRQ delivery (DAIF's I bit) and returns the previous
// DAIF value so the caller can restore it precisely. Masking when
// already masked is a documented no-op (§8 idempotence laws).
func DisableIRQs() (prev uint64) {
	prev = readDAIF()
	writeDAIF(prev | daifIRQBit)
	isb()
	return prev
}

// EnableIRQs unmasks IRQ delivery unconditionally.
func EnableIRQs() {
	prev := readDAIF()
	writeDAIF(prev &^ daifIRQBit)
	isb()
}

// RestoreIRQs writes back a DAIF value captured by DisableIRQs.
func RestoreIRQs(saved uint64) {
	writeDAIF(saved)
	isb()
}

// IRQsEnabled reports whether IRQ delivery is currently unmasked.
func IRQsEnabled() bool {
	return readDAIF()&daifIRQBit == 0
}

// SCTLREL1 reads/writes the system control register.
func SCTLREL1() uint64          { return readSCTLREL1() }
func SetSCTLREL1(v uint64)      { writeSCTLREL1(v) }
func TCREL1() uint64            { return readTCREL1() }
func SetTCREL1(v uint64)        { writeTCREL1(v) }
func MAIREL1() uint64           { return readMAIREL1() }
func SetMAIREL1(v uint64)       { writeMAIREL1(v) }
func TTBR0EL1() uint64          { return readTTBR0EL1() }
func SetTTBR0EL1(v uint64)      { writeTTBR0EL1(v) }
func SetVBAREL1(addr uint64)    { writeVBAREL1(addr) }
func ESREL1() uint64            { return readESREL1() }
func ELREL1() uint64            { return readELREL1() }
func FAREL1() uint64            { return readFAREL1() }
func CounterFreqHz() uint64     { return readCNTFRQEL0() }
func CounterValue() uint64      { return readCNTPCTEL0() }
func SetPhysTimerValue(v uint64) { writeCNTPTvalEL0(v) }
func SetPhysTimerCtl(v uint64)   { writeCNTPCtlEL0(v) }

// Dsb issues a full-system data synchronization barrier.
func Dsb() { dsbSY() }

// Isb issues an instruction synchronization barrier.
func Isb() { isb() }

// TLBIAll invalidates the entire EL1 TLB, inner-shareable, and is always
// followed by the barrier pair the architecture requires.
func TLBIAll() {
	dsbSY()
	tlbiVMALLE1IS()
	dsbSY()
	isb()
}

// ICInvalidateAll invalidates the I-cache, used after writing executable
// pages so the new instructions are actually fetched.
func ICInvalidateAll() {
	icIALLU()
	isb()
}

// WaitForInterrupt parks the core on `wfi` until the next exception.
func WaitForInterrupt() { wfi() }
