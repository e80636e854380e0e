package gpu

import (
	"testing"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/virtio"
	"github.com/craybond/craybond/internal/volatile"
)

// TestSubmitNotifiesAtTheDeviceReportedQueueOffset pins a device that
// reports a nonzero queue_notify_off and a NotifyMultiplier > 1, so
// submit's doorbell write must land at notifyOff*multiplier rather than
// a hardcoded offset 0.
func TestSubmitNotifiesAtTheDeviceReportedQueueOffset(t *testing.T) {
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
	win.Common.Write16(virtio.CommonQueueNotifyOff, 5)

	d := &Device{win: win, arena: arena}
	if err := d.setupQueue(0); err != nil {
		t.Fatalf("setupQueue: %v", err)
	}
	if d.notifyOff != 5 {
		t.Fatalf("notifyOff = %d, want the device-reported 5", d.notifyOff)
	}

	cmdAddr, err := arena.PermanentAllocate(256)
	if err != nil {
		t.Fatalf("allocating command buffer: %v", err)
	}
	respAddr, err := arena.PermanentAllocate(256)
	if err != nil {
		t.Fatalf("allocating response buffer: %v", err)
	}
	d.cmdBuf, d.respBuf = cmdAddr, respAddr

	for i := range notify {
		notify[i] = 0xFF
	}
	d.submit(24, 24) //nolint:errcheck // this submission always times out; only the notify offset is under test

	const wantOffset = 5 * 2
	if notify[0] != 0xFF || notify[1] != 0xFF {
		t.Fatalf("notify bytes at offset 0 were touched; doorbell should only land at offset %d", wantOffset)
	}
	if notify[wantOffset] != 0 || notify[wantOffset+1] != 0 {
		t.Fatalf("notify bytes at offset %d = %#x %#x, want the doorbell write to have landed there",
			wantOffset, notify[wantOffset], notify[wantOffset+1])
	}
}
