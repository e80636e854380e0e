// Package rng drives a VirtIO entropy-source device over PCI. It is
// not exercised by any required boot component: spec.md never names a
// random number source, but the same capability-walk and status-
// handshake machinery the GPU driver needs is generic (internal/virtio),
// and the kernel uses whatever entropy this device offers to seed the
// scheduler's READY-task tie-breaking at Start, per SPEC_FULL.md §4.
package rng

import (
	"fmt"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/pci"
	"github.com/craybond/craybond/internal/virtio"
)

// maxRetries bounds request-completion spinning, mirroring
// internal/gpu's bounded-spin command submission.
const maxRetries = 1_000_000

// ErrTimeout is returned when a request's used-ring entry never
// appears within maxRetries spins.
var ErrTimeout = fmt.Errorf("rng: request timed out waiting for device")

// Device drives one VirtIO-RNG device: a single virtqueue that the
// driver posts a write-only buffer to, which the device fills with
// random bytes before posting it to the used ring (virtio-v1.1 §5.4).
type Device struct {
	win virtio.Windows
	vq  Virtqueue
	buf uintptr

	// notifyOff is queue 0's device-reported queue_notify_off, read
	// back from CommonQueueNotifyOff once the queue is selected. The
	// byte offset into the Notify window is this times
	// win.NotifyMultiplier (virtio-v1.1 §4.1.4.4), not a fixed 0 —
	// devices are free to place each queue's doorbell anywhere in the
	// window.
	notifyOff uint16
}

// Discover scans ecam for the VirtIO-RNG device (vendor 0x1AF4, device
// 0x1005) and resolves its capability windows. ok is false, not an
// error, when no such device is present.
func Discover(ecam *pci.ECAM, confBase uintptr) (virtio.Windows, bool, error) {
	return virtio.Discover(ecam, pci.VirtIORNGDevice, confBase)
}

// New runs the shared handshake, sets up the single request queue, and
// allocates an 8-byte entropy buffer from the permanent arena.
func New(win virtio.Windows, arena *mm.Arenas) (*Device, error) {
	d := &Device{win: win}

	if _, err := virtio.Handshake(d.win); err != nil {
		return nil, fmt.Errorf("rng: %w", err)
	}

	descSize := uintptr(queueSize) * 16
	availSize := uintptr(6 + queueSize*2)
	usedSize := uintptr(6 + queueSize*8)

	descAddr, err := arena.PermanentAllocate(descSize)
	if err != nil {
		return nil, fmt.Errorf("rng: allocating descriptor ring: %w", err)
	}
	availAddr, err := arena.PermanentAllocate(availSize)
	if err != nil {
		return nil, fmt.Errorf("rng: allocating avail ring: %w", err)
	}
	usedAddr, err := arena.PermanentAllocate(usedSize)
	if err != nil {
		return nil, fmt.Errorf("rng: allocating used ring: %w", err)
	}
	d.vq.Desc = (*[queueSize]Descriptor)(unsafe.Pointer(descAddr))
	d.vq.Avail = (*Avail)(unsafe.Pointer(availAddr))
	d.vq.Used = (*Used)(unsafe.Pointer(usedAddr))

	d.win.Common.Write16(virtio.CommonQueueSelect, 0)
	d.win.Common.Write32(virtio.CommonQueueDescLow, uint32(descAddr))
	d.win.Common.Write32(virtio.CommonQueueDescHigh, uint32(uint64(descAddr)>>32))
	d.win.Common.Write32(virtio.CommonQueueAvailLow, uint32(availAddr))
	d.win.Common.Write32(virtio.CommonQueueAvailHigh, uint32(uint64(availAddr)>>32))
	d.win.Common.Write32(virtio.CommonQueueUsedLow, uint32(usedAddr))
	d.win.Common.Write32(virtio.CommonQueueUsedHigh, uint32(uint64(usedAddr)>>32))
	d.notifyOff = d.win.Common.Read16(virtio.CommonQueueNotifyOff)
	d.win.Common.Write16(virtio.CommonQueueEnable, 1)

	bufAddr, err := arena.PermanentAllocate(8)
	if err != nil {
		return nil, fmt.Errorf("rng: allocating entropy buffer: %w", err)
	}
	d.buf = bufAddr

	virtio.SetDriverOK(d.win)
	return d, nil
}

// Read requests 8 bytes of entropy from the device and returns them as
// a single uint64, bounded by maxRetries spins of the used ring.
func (d *Device) Read() (uint64, error) {
	d.vq.Desc[0] = Descriptor{Addr: uint64(d.buf), Len: 8, Flags: descFWrite}

	slot := d.vq.Avail.Idx % queueSize
	d.vq.Avail.Ring[slot] = 0
	d.vq.Avail.Idx++

	d.win.Notify.Write16(uintptr(d.notifyOff)*uintptr(d.win.NotifyMultiplier), 0)

	for i := 0; i < maxRetries; i++ {
		if d.vq.Used.Idx != d.vq.lastUsed {
			d.vq.lastUsed = d.vq.Used.Idx
			break
		}
		if i == maxRetries-1 {
			return 0, ErrTimeout
		}
	}

	return *(*uint64)(unsafe.Pointer(d.buf)), nil
}
