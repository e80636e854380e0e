// Command craybond is the kernel entry point: it runs the fixed boot
// order from spec.md §2 and never returns.
package main

import (
	"errors"
	"io"
	"reflect"
	"strconv"
	"unsafe"

	"github.com/craybond/craybond/internal/boot"
	"github.com/craybond/craybond/internal/gpu"
	"github.com/craybond/craybond/internal/intc"
	"github.com/craybond/craybond/internal/klog"
	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/mmu"
	"github.com/craybond/craybond/internal/pci"
	"github.com/craybond/craybond/internal/rng"
	"github.com/craybond/craybond/internal/rtc"
	"github.com/craybond/craybond/internal/sched"
	"github.com/craybond/craybond/internal/syscall"
	"github.com/craybond/craybond/internal/sysreg"
	"github.com/craybond/craybond/internal/trap"
)

// These addresses and sizes are supplied by the linker script; the Go
// compiler never sees their values, only that they exist (spec.md §3's
// bootstrap assumptions: BSS zeroed, stack set, a heap region known at
// link time).
var (
	heapBottom          uintptr
	heapLimit           uintptr
	mmuRootTable        [512]uint64 // statically allocated, page-aligned by the linker
	exceptionVectorRAM  uintptr
	exceptionVectorSize uintptr = 0x800

	// bssStart/bssEnd/stackTop are read (as values, not addresses) by
	// the reset stub in rt0_arm64.s before KernelMain ever runs, per
	// spec.md §2's Bootstrap component.
	bssStart uintptr
	bssEnd   uintptr
	stackTop uintptr
)

// start is the kernel's machine-code entry point (rt0_arm64.s); the
// linker script's ENTRY() directive is what actually roots it, since
// nothing in Go ever calls it. The declaration exists so the symbol
// has a Go-visible name for documentation purposes only.
//
//go:noescape
func start()

// uartSink adapts the PL011 MMIO register window to io.Writer so klog
// can log to it without any intermediate buffering.
type uartSink struct {
	dr unsafe.Pointer
}

func (u uartSink) Write(p []byte) (int, error) {
	for _, b := range p {
		*(*byte)(u.dr) = b
	}
	return len(p), nil
}

var _ io.Writer = uartSink{}

// KernelMain is called once, after the assembly trampoline has set up
// a stack and zeroed BSS. It never returns.
func KernelMain() {
	cfg := boot.Default()

	log := klog.New(uartSink{dr: unsafe.Pointer(cfg.UARTBase)}, klog.Info)
	log.SetClock(rtc.New(cfg.RTCBase).Now)
	log.Info("craybond booting")

	relocateExceptionVectors()

	arena := mm.New(heapBottom, heapLimit)
	tables := mmu.New(unsafe.Pointer(&mmuRootTable), arena)

	mapKernelRegions(tables, cfg)
	tables.EnableStage1()
	mmu.AfterTableUpdate(false)

	gic := intc.New(cfg.GICDistBase, cfg.GICCPUBase)
	gic.Init()
	timer := intc.NewTimer()

	scheduler := sched.New(arena, gic, log)
	theScheduler, theLog, theGIC, theTimer = scheduler, log, gic, timer

	ecam := pci.NewECAM(cfg.PCIECAMBase)
	screen := bringUpDisplay(ecam, cfg, arena, log)
	seedSchedulerTieBreak(scheduler, ecam, cfg, arena, log)

	bootEntry := uintptr(reflect.ValueOf(bootScreenEntry).Pointer())
	bootTaskID, err := scheduler.SpawnKernel(bootEntry)
	if err != nil {
		log.Fatal("craybond: spawning boot-screen task failed", klog.Field("err", err.Error()))
	}
	_ = bootTaskID
	activeScreen = screen

	first := scheduler.Start(timer, cfg.TickMs)
	restoreAndRun(first)
}

// relocateExceptionVectors copies the 2 KiB vector table out of the
// kernel image into a fixed RAM address and points VBAR_EL1 at the
// copy, per spec.md §4.1 (the ROM/flash image the table otherwise
// lives in may not be mapped executable at the address the linker
// placed it).
func relocateExceptionVectors() {
	romAddr := exceptionVectorsAddr()
	rom := (*[0x800]byte)(unsafe.Pointer(romAddr))
	ram := (*[0x800]byte)(unsafe.Pointer(exceptionVectorRAM))
	*ram = *rom
	sysreg.SetVBAREL1(uint64(exceptionVectorRAM))
}

//go:noescape
func exceptionVectorsAddr() uintptr

// mapKernelRegions installs the fixed kernel/MMIO/GIC mappings the
// MMU needs before stage-1 translation is enabled, per spec.md §4.3.
func mapKernelRegions(tables *mmu.Tables, cfg boot.Config) {
	if err := tables.Map2MB(0x40000000, 0x40000000, mmu.AttrNormal, mmu.LevelEL1); err != nil {
		panic(err)
	}

	devMappings := []uintptr{cfg.UARTBase, cfg.GICDistBase, cfg.GICCPUBase, cfg.RTCBase}
	for _, base := range devMappings {
		page := base &^ 0xFFF
		if err := tables.Map4KB(uint64(page), uint64(page), mmu.AttrDevice, mmu.LevelEL1); err != nil && !errors.Is(err, mmu.ErrMappingConflict) {
			panic(err)
		}
	}
}

// bringUpDisplay implements spec.md §4.7's capability swap: try
// VirtIO-GPU first, fall back to the software screen if none is
// found.
func bringUpDisplay(ecam *pci.ECAM, cfg boot.Config, arena *mm.Arenas, log *klog.Logger) gpu.Screen {
	const confBase = 0x10000000

	win, found, err := gpu.Discover(ecam, confBase)
	if err != nil {
		log.Warn("craybond: VirtIO-GPU discovery failed", klog.Field("err", err.Error()))
	}
	if !found {
		log.Info("craybond: no VirtIO-GPU device found, using software fallback")
		return gpu.NewSoftwareScreen(cfg.FallbackWidth, cfg.FallbackHeight)
	}

	dev, err := gpu.New(win, arena)
	if err != nil {
		log.Warn("craybond: VirtIO-GPU handshake failed, using software fallback", klog.Field("err", err.Error()))
		return gpu.NewSoftwareScreen(cfg.FallbackWidth, cfg.FallbackHeight)
	}

	const resourceID = 1
	scanoutID, width, height := dev.ScanoutInfo(uint32(cfg.FallbackWidth), uint32(cfg.FallbackHeight))

	fbSize := width * height * 4
	fbAddr, err := arena.PermanentAllocate(uintptr(fbSize))
	if err != nil {
		log.Warn("craybond: allocating GPU framebuffer failed, using software fallback", klog.Field("err", err.Error()))
		return gpu.NewSoftwareScreen(cfg.FallbackWidth, cfg.FallbackHeight)
	}
	fb := (*[1 << 30]byte)(unsafe.Pointer(fbAddr))[:fbSize:fbSize]

	if err := dev.SetupFramebuffer(resourceID, scanoutID, width, height, fbAddr, fbSize); err != nil {
		log.Warn("craybond: configuring GPU framebuffer failed, using software fallback", klog.Field("err", err.Error()))
		return gpu.NewSoftwareScreen(cfg.FallbackWidth, cfg.FallbackHeight)
	}

	return gpu.NewVirtioScreen(dev, fb, int(width), int(height), resourceID)
}

// seedSchedulerTieBreak probes for a VirtIO-RNG device (spec.md §4.7's
// capability-walk machinery, but for vendor/device 0x1AF4/0x1005
// instead of the GPU's) and, if one is found, pulls one word of
// entropy to seed Start's READY-task tie-break. Absence of the device
// is not an error: the scheduler's deterministic lowest-index
// tie-break is a perfectly valid fallback.
func seedSchedulerTieBreak(scheduler *sched.Scheduler, ecam *pci.ECAM, cfg boot.Config, arena *mm.Arenas, log *klog.Logger) {
	const confBase = 0x10100000

	win, found, err := rng.Discover(ecam, confBase)
	if err != nil {
		log.Warn("craybond: VirtIO-RNG discovery failed", klog.Field("err", err.Error()))
		return
	}
	if !found {
		return
	}

	dev, err := rng.New(win, arena)
	if err != nil {
		log.Warn("craybond: VirtIO-RNG handshake failed", klog.Field("err", err.Error()))
		return
	}

	seed, err := dev.Read()
	if err != nil {
		log.Warn("craybond: VirtIO-RNG entropy read failed", klog.Field("err", err.Error()))
		return
	}
	scheduler.SeedTieBreak(seed)
}

// activeScreen is the single display capability the boot-screen task
// draws through; spec.md §4.7 treats VirtIO and software backends as
// interchangeable behind this capability.
var activeScreen gpu.Screen

// bootScreenEntry is the first spawned task's code: clear to black and
// draw a banner, then cooperatively yield forever rather than busy-spin
// until the next timer tick preempts it.
func bootScreenEntry() {
	if activeScreen != nil {
		activeScreen.Clear(0x000000)
		activeScreen.DrawString(8, 8, "craybond", 0xFFFFFF)
		activeScreen.Flush()
	}
	for {
		yieldNow(theScheduler)
	}
}

// restoreAndRun performs the unified exception-return-style restore
// described in spec.md §4.5/§9: assembly synthesizes an exception
// frame from ctx and executes ERET. Implemented in asm_arm64.s.
func restoreAndRun(ctx sched.Context) {
	restoreContext(&ctx)
}

//go:noescape
func restoreContext(ctx *sched.Context)

// handleTrap is called by the exception-vector trampoline for every
// synchronous exception, IRQ, FIQ, and SError, with the interrupted
// register file already saved into the current task's descriptor.
// It is wired up as the single dispatch point the redesign flags ask
// for instead of scattering exception-class handling across vectors.
func handleTrap(info trap.Info, scheduler *sched.Scheduler, log *klog.Logger, gic *intc.GIC, timer *intc.Timer) {
	switch info.Kind {
	case trap.IRQ:
		id := gic.Acknowledge()
		if id == intc.TimerIRQ {
			timer.Reset()
		}
		gic.EndOfInterrupt(id)

		// Unknown IDs are acknowledged, logged at Warn, and otherwise
		// ignored, per the Open Question decision in SPEC_FULL.md §5.1:
		// resume the interrupted task's own (just-saved) context unchanged.
		if id != intc.TimerIRQ {
			log.Warn("craybond: ignoring unknown IRQ", klog.Field("id", strconv.FormatUint(uint64(id), 10)))
		}
		cur := scheduler.Table().Current()
		next := cur.Ctx
		if id == intc.TimerIRQ {
			next = scheduler.SwitchOnIRQ(cur.Ctx)
		}
		restoreContext(&next)
		return

	default:
		if info.IsSyscall() {
			cur := scheduler.Table().Current()
			ctx := cur.Ctx
			syscall.Handle(log, cur, ctx.GPR[8], ctx.GPR[0], ctx.GPR[1], ctx.GPR[2], func(s string) {
				log.Info("print", klog.Field("task", strconv.Itoa(cur.ID)), klog.Field("msg", s))
			})
			restoreContext(&cur.Ctx)
			return
		}
		trap.Fatal(log, info, scheduler.Table().Current().ID)
	}
}
