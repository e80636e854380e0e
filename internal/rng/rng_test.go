package rng

import (
	"testing"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/virtio"
	"github.com/craybond/craybond/internal/volatile"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()

	heap := make([]byte, 8<<20)
	base := uintptr(unsafe.Pointer(&heap[0]))
	arena := mm.New(base, base+uintptr(len(heap)))

	regs := make([]byte, 0x40)
	regBase := uintptr(unsafe.Pointer(&regs[0]))
	notify := make([]byte, 0x10)
	notifyBase := uintptr(unsafe.Pointer(&notify[0]))

	win := virtio.Windows{
		Common: volatile.NewWindow(regBase, uintptr(len(regs))),
		Notify: volatile.NewWindow(notifyBase, uintptr(len(notify))),
	}

	dev, err := New(win, arena)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dev
}

func TestNewCompletesHandshakeAndEnablesQueue(t *testing.T) {
	dev := newTestDevice(t)

	status := dev.win.Common.Read8(virtio.CommonDeviceStatus)
	want := uint8(virtio.StatusAcknowledge | virtio.StatusDriver | virtio.StatusFeaturesOK | virtio.StatusDriverOK)
	if status != want {
		t.Fatalf("status after New = %#x, want %#x", status, want)
	}
	if got := dev.win.Common.Read16(virtio.CommonQueueEnable); got != 1 {
		t.Fatalf("queue enable = %d, want 1", got)
	}
}

func TestReadTimesOutWithoutADevicePostingTheUsedRing(t *testing.T) {
	dev := newTestDevice(t)

	if _, err := dev.Read(); err != ErrTimeout {
		t.Fatalf("Read with no device on the other end = %v, want ErrTimeout", err)
	}
}

// TestReadNotifiesAtTheDeviceReportedQueueOffset pins a device that
// reports a nonzero queue_notify_off and a NotifyMultiplier > 1, so the
// doorbell write must land at notifyOff*multiplier rather than at a
// hardcoded offset 0.
func TestReadNotifiesAtTheDeviceReportedQueueOffset(t *testing.T) {
	heap := make([]byte, 8<<20)
	base := uintptr(unsafe.Pointer(&heap[0]))
	arena := mm.New(base, base+uintptr(len(heap)))

	regs := make([]byte, 0x40)
	regBase := uintptr(unsafe.Pointer(&regs[0]))
	notify := make([]byte, 0x10)
	notifyBase := uintptr(unsafe.Pointer(&notify[0]))

	win := virtio.Windows{
		Common:           volatile.NewWindow(regBase, uintptr(len(regs))),
		Notify:           volatile.NewWindow(notifyBase, uintptr(len(notify))),
		NotifyMultiplier: 2,
	}
	win.Common.Write16(virtio.CommonQueueNotifyOff, 3)

	dev, err := New(win, arena)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if dev.notifyOff != 3 {
		t.Fatalf("notifyOff = %d, want the device-reported 3", dev.notifyOff)
	}

	for i := range notify {
		notify[i] = 0xFF
	}
	dev.Read() //nolint:errcheck // only the notify write's target offset is under test

	const wantOffset = 3 * 2
	if notify[0] != 0xFF || notify[1] != 0xFF {
		t.Fatalf("notify bytes at offset 0 were touched; doorbell should only land at offset %d", wantOffset)
	}
	if notify[wantOffset] != 0 || notify[wantOffset+1] != 0 {
		t.Fatalf("notify bytes at offset %d = %#x %#x, want the doorbell write to have landed there",
			wantOffset, notify[wantOffset], notify[wantOffset+1])
	}
}
