package main

import (
	"unsafe"

	"github.com/craybond/craybond/internal/intc"
	"github.com/craybond/craybond/internal/klog"
	"github.com/craybond/craybond/internal/sched"
	"github.com/craybond/craybond/internal/trap"
)

// trapFrameSize matches the 256-byte reserved region every vector
// entry carves out of RSP (vectors_arm64.s) before it stores x0-x30,
// so it's also the offset back from the saved frame to the stack
// pointer the interrupted code was actually running on.
const trapFrameSize = 256

// spsrModeMask and spsrModeEL1h pick the AArch64 exception-level/SP
// bits (M[3:0]) out of a saved SPSR, matching sched.spsrEL1hMasked's
// low nibble.
const (
	spsrModeMask = 0xF
	spsrModeEL1h = 0x5
)

// exceptionVectors is the 2 KiB vector table defined in
// vectors_arm64.s; its address (after relocation into RAM) is what
// gets programmed into VBAR_EL1.
//
//go:noescape
func exceptionVectors()

// trapCommon is reached by every populated vector slot after it has
// stored x0-x30 in a frame below the entry SP and switched onto
// trapStack; R0 holds the exception kind and
// R1 points at the saved register block. It reads ESR/ELR/SPSR/FAR
// and the interrupted task's SP_EL0, then calls trapDispatch with all
// of it.
//
//go:noescape
func trapCommon()

var (
	theScheduler *sched.Scheduler
	theLog       *klog.Logger
	theGIC       *intc.GIC
	theTimer     *intc.Timer
)

// trapStack is the fixed stack every vector entry switches onto
// before calling into Go. The saved register frame itself sits in the
// 256 bytes below the SP in use at entry; only the Go dispatch code
// runs on trapStack. Every exit restores the saved SP and returns by
// ERET, so repeated preemption of the same task does not grow its
// stack footprint across ticks.
var trapStack [4096]byte

// trapDispatch is called from assembly for every exception. frame
// points at the 31 general-purpose registers the vector just saved,
// and spEL0 is the interrupted task's stack pointer. It commits that
// state into the current task's descriptor before handleTrap runs, so
// every dispatch decision — the IRQ-driven switch and the syscall
// argument read alike — observes exactly where the interrupted task
// actually was, per spec.md §4.1 and the testable property in §8.
func trapDispatch(kind uint64, frame *[31]uint64, esr, elr, spsr, far, spEL0 uint64) {
	saveContext(theScheduler, frame, elr, spsr, spEL0)
	info := trap.Info{Kind: trap.Kind(kind), ESR: esr, ELR: elr, SPSR: spsr, FAR: far}
	handleTrap(info, theScheduler, theLog, theGIC, theTimer)
}

// saveContext copies the register file the vector trampoline just
// saved into the descriptor of whichever task was actually running.
// This is the save half of spec.md §4.1's context-save/restore
// contract; restoreContext (asm_arm64.s) is the matching restore half.
//
// sp is the banked SP_EL0 the vector read, which is only the
// interrupted task's own stack pointer for an EL0t (user) task. A
// kernel task runs at EL1h on the live SP_EL1/RSP instead, and that
// register was never banked away — its value at the moment of
// exception is reconstructed from where the vector's frame sits
// relative to the RSP it switched away from.
func saveContext(scheduler *sched.Scheduler, frame *[31]uint64, pc, spsr, sp uint64) {
	if scheduler == nil {
		return
	}
	cur := scheduler.Table().Current()
	if cur == nil {
		return
	}
	cur.Ctx.GPR = *frame
	cur.Ctx.PC = pc
	cur.Ctx.SPSR = spsr
	if spsr&spsrModeMask == spsrModeEL1h {
		cur.Ctx.SP = uint64(uintptr(unsafe.Pointer(frame))) + trapFrameSize
	} else {
		cur.Ctx.SP = sp
	}
}

// yieldNow (asm_arm64.s) is spec.md §4.5's cooperative yield, called
// directly by a kernel task (e.g. bootScreenEntry's idle loop) instead
// of waiting for the timer IRQ to preempt it.
//
//go:noescape
func yieldNow(scheduler *sched.Scheduler)

// doYield is yieldNow's Go half: build the resume context from the
// call site's captured PC/SP, hand it to the scheduler, and restore
// through the same ERET-based path SwitchOnIRQ's caller uses.
func doYield(scheduler *sched.Scheduler, pc, sp uint64) {
	cur := scheduler.Table().Current()
	saved := cur.Ctx
	saved.PC = pc
	saved.SP = sp
	next := scheduler.Yield(saved)
	restoreContext(&next)
}
