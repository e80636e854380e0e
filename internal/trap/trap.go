// Package trap decodes AArch64 exception syndrome state and renders
// the fatal path's banner, per spec.md §4.1. Dispatch to the scheduler
// (IRQ) or the syscall layer (SVC) lives in cmd/craybond's trapDispatch
// and handleTrap, which build an Info from the registers the vector
// table saved and use this package's decoders.
package trap

import "fmt"

// Kind is which of the four AArch64 vector-table rows delivered the
// exception, per spec.md §4.1.
type Kind int

const (
	Synchronous Kind = iota
	IRQ
	FIQ
	SError
)

func (k Kind) String() string {
	switch k {
	case Synchronous:
		return "SYNC"
	case IRQ:
		return "IRQ"
	case FIQ:
		return "FIQ"
	case SError:
		return "SERROR"
	default:
		return "UNKNOWN"
	}
}

// EC values from ESR_EL1 bits [31:26] that this kernel distinguishes,
// per spec.md §4.1. Every other class is treated as fatal.
const (
	ecSVC64       = 0b010101
	ecDataAbortLo = 0b100100 // from EL0
	ecDataAbortHi = 0b100101 // from EL1 (same EL)
	ecInsnAbortLo = 0b100000
	ecInsnAbortHi = 0b100001
)

// Info is the syndrome state captured at exception entry: exactly the
// fields the vector-table trampoline has available without touching
// any global that might not be mapped yet.
type Info struct {
	Kind Kind
	ESR  uint64
	ELR  uint64
	SPSR uint64
	FAR  uint64
}

// EC extracts the Exception Class field.
func (i Info) EC() uint8 { return uint8((i.ESR >> 26) & 0x3F) }

// ISS extracts the Instruction Specific Syndrome field.
func (i Info) ISS() uint32 { return uint32(i.ESR & 0x1FFFFFF) }

// IsSyscall reports whether this is a synchronous exception with the
// AArch64 SVC exception class; it does not check which exception level
// issued the SVC.
func (i Info) IsSyscall() bool {
	return i.Kind == Synchronous && i.EC() == ecSVC64
}

// IsAbort reports whether this is a data or instruction abort, and
// whether it originated at the same exception level (EL1) or from
// EL0.
func (i Info) IsAbort() (abort bool, fromEL1 bool) {
	switch i.EC() {
	case ecDataAbortLo, ecInsnAbortLo:
		return true, false
	case ecDataAbortHi, ecInsnAbortHi:
		return true, true
	default:
		return false, false
	}
}

// String renders the syndrome state the way the fatal path logs it.
func (i Info) String() string {
	return fmt.Sprintf("kind=%s ec=%#02x elr=%#016x esr=%#016x far=%#016x spsr=%#016x",
		i.Kind, i.EC(), i.ELR, i.ESR, i.FAR, i.SPSR)
}
