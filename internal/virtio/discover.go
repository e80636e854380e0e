package virtio

import (
	"fmt"

	"github.com/craybond/craybond/internal/pci"
	"github.com/craybond/craybond/internal/volatile"
)

// Discover scans ecam for a VirtIO device with the given device ID,
// walks its capability list, size-probes and assigns, starting at
// confBase, every BAR a capability references (once per BAR, the first
// time it is seen), and returns the register windows a handshake
// needs. It does not check whether firmware already assigned a BAR;
// every referenced BAR is reprogrammed. It returns ok=false (not an
// error) when no such
// device is present. Shared by internal/gpu and internal/rng so
// neither repeats the capability-to-window resolution.
func Discover(ecam *pci.ECAM, device uint16, confBase uintptr) (Windows, bool, error) {
	fn, ok := ecam.Find(pci.VirtIOVendorID, device)
	if !ok {
		return Windows{}, false, nil
	}

	assigned := map[uint8]uintptr{}
	next := confBase

	resolve := func(bar uint8) volatile.Window {
		base, done := assigned[bar]
		if !done {
			size := fn.ProbeBARSize(bar)
			if size == 0 {
				size = 1 << 12
			}
			fn.AssignBAR(bar, uint32(next))
			base = next
			assigned[bar] = base
			next += uintptr(size)
		}
		return volatile.NewWindow(base, 1<<16)
	}

	var win Windows
	for _, cap := range fn.WalkCapabilities() {
		w := resolve(cap.BAR)
		sub, err := w.Sub(uintptr(cap.Offset), uintptr(cap.Length))
		if err != nil {
			return Windows{}, false, fmt.Errorf("virtio: carving capability window: %w", err)
		}

		switch cap.Type {
		case pci.CapCommon:
			win.Common = sub
		case pci.CapNotify:
			win.Notify = sub
			win.NotifyMultiplier = cap.NotifyMultipl
		case pci.CapISR:
			win.ISR = sub
		case pci.CapDevice:
			win.Device = sub
		}
	}

	return win, true, nil
}
