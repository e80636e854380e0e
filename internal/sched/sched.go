package sched

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/craybond/craybond/internal/intc"
	"github.com/craybond/craybond/internal/klog"
	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/sysreg"
)

const (
	stackSize = 4096

	spsrEL1hMasked = 0x3C5 // EL1h, DAIF all masked
	spsrEL0tOpen   = 0x000 // EL0t, interrupts unmasked
)

// Scheduler owns the process table and the resources a spawn or a
// switch needs: the permanent arena for stacks/segments, the
// interrupt controller for the preemption tick, and a logger for the
// relocator's diagnostics. There is exactly one instance for the
// kernel's lifetime (spec.md §9's "owned aggregate" redesign flag).
type Scheduler struct {
	table Table
	arena *mm.Arenas
	gic   *intc.GIC
	log   *klog.Logger

	tickMs uint64

	// tieSeed breaks the tie among multiple equally-READY tasks at
	// Start, per SPEC_FULL.md §4's VirtIO-RNG supplement. Zero (the
	// default, and whenever no entropy source was found) means "no
	// seed": Start keeps its deterministic lowest-index behavior so
	// scheduler tests stay reproducible without one.
	tieSeed uint64
}

// SeedTieBreak records an entropy value to use for resolving ties
// among multiple READY tasks at Start, instead of always starting the
// lowest-index one. Called once at boot with a word pulled from the
// VirtIO-RNG device, when present.
func (s *Scheduler) SeedTieBreak(seed uint64) { s.tieSeed = seed }

// firstReady returns the table index Start should begin on: the only
// READY task if there is exactly one, otherwise the tieSeed-selected
// member of the READY set (or always index 0 of that set if tieSeed
// was never seeded).
func (s *Scheduler) firstReady() int {
	var ready []int
	for i := 0; i < s.table.count; i++ {
		if s.table.tasks[i].State == Ready {
			ready = append(ready, i)
		}
	}
	if len(ready) == 0 {
		return 0
	}
	if s.tieSeed == 0 {
		return ready[0]
	}
	return ready[s.tieSeed%uint64(len(ready))]
}

// New returns a Scheduler with an empty process table.
func New(arena *mm.Arenas, gic *intc.GIC, log *klog.Logger) *Scheduler {
	return &Scheduler{arena: arena, gic: gic, log: log}
}

// Table exposes the process table for callers (syscalls, the fatal
// path) that need to identify or validate against the current task.
func (s *Scheduler) Table() *Table { return &s.table }

// SpawnKernel creates a kernel-mode task descriptor per spec.md
// §4.5's "Spawn (kernel task)": a fresh stack from the permanent
// arena, PC at entry, SPSR = EL1h with interrupts masked.
func (s *Scheduler) SpawnKernel(entry uintptr) (id int, err error) {
	stackBase, err := s.arena.PermanentAllocate(stackSize)
	if err != nil {
		return 0, fmt.Errorf("sched: allocating kernel stack: %w", err)
	}

	ctx := Context{
		SP:   uint64(stackBase) + stackSize,
		PC:   uint64(entry),
		SPSR: spsrEL1hMasked,
	}
	return s.table.Insert(ctx, memRegion{}, memRegion{})
}

// SpawnUser creates a user-mode (EL0) task descriptor per spec.md
// §4.5's "Spawn (user task)": copies and relocates the code segment,
// copies the data segment verbatim, and records both regions in the
// task descriptor for syscall pointer validation. It installs no
// translation-table mappings for them and returns only the task ID. If the
// relocator finds an adrp targeting outside the data segment it could
// not rewrite, the spawn is rejected outright rather than loading
// partially-relocated code.
func (s *Scheduler) SpawnUser(srcCode []byte, srcCodeBase uintptr, data []byte) (id int, err error) {
	if len(srcCode)%4 != 0 {
		return 0, fmt.Errorf("sched: code segment length %d is not a multiple of 4", len(srcCode))
	}

	dataBase, err := s.arena.PermanentAllocate(uintptr(len(data)))
	if err != nil {
		return 0, fmt.Errorf("sched: allocating data segment: %w", err)
	}
	dst := (*[1 << 30]byte)(unsafe.Pointer(dataBase))[:len(data):len(data)]
	copy(dst, data)

	codeBase, err := s.arena.PermanentAllocate(uintptr(len(srcCode)))
	if err != nil {
		return 0, fmt.Errorf("sched: allocating code segment: %w", err)
	}

	srcWords := make([]uint32, len(srcCode)/4)
	for i := range srcWords {
		srcWords[i] = binary.LittleEndian.Uint32(srcCode[i*4:])
	}
	dstWords := make([]uint32, len(srcWords))

	var srcDataBase uint64
	if len(data) > 0 {
		srcDataBase = uint64(uintptr(unsafe.Pointer(&data[0])))
	}
	diags := relocate(dstWords, srcWords,
		uint64(srcCodeBase), uint64(codeBase),
		srcDataBase, uint64(dataBase),
		uintptr(len(srcCode)), uintptr(len(data)))
	if len(diags) > 0 {
		for _, d := range diags {
			s.log.Warn("sched: rejecting spawn, unrelocatable adrp", klog.Field("detail", d.String()))
		}
		return 0, fmt.Errorf("sched: %d instruction(s) could not be relocated", len(diags))
	}

	codeDst := (*[1 << 30]byte)(unsafe.Pointer(codeBase))[:len(srcCode):len(srcCode)]
	for i, w := range dstWords {
		binary.LittleEndian.PutUint32(codeDst[i*4:], w)
	}

	stackBase, err := s.arena.PermanentAllocate(stackSize)
	if err != nil {
		return 0, fmt.Errorf("sched: allocating user stack: %w", err)
	}

	ctx := Context{
		SP:   uint64(stackBase) + stackSize,
		PC:   uint64(codeBase),
		SPSR: spsrEL0tOpen,
	}
	code := memRegion{base: codeBase, size: uintptr(len(srcCode))}
	region := memRegion{base: dataBase, size: uintptr(len(data))}
	return s.table.Insert(ctx, code, region)
}

// selectNext implements spec.md §4.5's round-robin selection:
// starting from (current+1) mod count, advance until a READY
// descriptor is found or the search wraps back to current, in which
// case the call is a no-op (returns the current index unchanged).
func (t *Table) selectNext() int {
	if t.count == 0 {
		return 0
	}
	for i := 1; i <= t.count; i++ {
		cand := (t.current + i) % t.count
		if cand == t.current {
			return t.current
		}
		if t.tasks[cand].State == Ready {
			return cand
		}
	}
	return t.current
}

// SwitchOnIRQ implements spec.md §4.5's "Context switch on IRQ": the
// caller (the IRQ vector's Go-side handler) has already saved the
// interrupted register file into the current descriptor; this
// selects the next READY task and returns the context to restore via
// an exception-return-style instruction sequence.
func (s *Scheduler) SwitchOnIRQ(saved Context) (next Context) {
	cur := s.table.Current()
	cur.Ctx = saved
	cur.State = Ready

	s.table.current = s.table.selectNext()
	t := s.table.Current()
	t.State = Running
	return t.Ctx
}

// Yield implements spec.md §4.5's cooperative yield: identical
// selection to SwitchOnIRQ. Per the Open Question decision
// (SPEC_FULL.md §5.4), this kernel unifies both restore paths onto the
// exception-return sequence, so Yield's caller restores the returned
// Context through the same ERET-based path SwitchOnIRQ's caller uses
// rather than branching to PC directly.
func (s *Scheduler) Yield(saved Context) (next Context) {
	cur := s.table.Current()
	cur.Ctx = saved
	cur.State = Ready

	s.table.current = s.table.selectNext()
	t := s.table.Current()
	t.State = Running
	return t.Ctx
}

// Start implements spec.md §4.5's Start: mask IRQs, program the timer
// at tickMs (default 10), and return the context of the first READY
// task for the caller to restore into. IRQs are expected to be
// unmasked again by the restore path's exception-return (SPSR's DAIF
// bits for the selected task), not by this call.
func (s *Scheduler) Start(timer *intc.Timer, tickMs uint64) (first Context) {
	sysreg.DisableIRQs()
	if tickMs == 0 {
		tickMs = 10
	}
	s.tickMs = tickMs
	timer.Start(tickMs)

	s.table.current = s.firstReady()
	t := s.table.Current()
	t.State = Running
	return t.Ctx
}
