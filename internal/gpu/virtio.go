package gpu

import (
	"fmt"
	"unsafe"

	"github.com/craybond/craybond/internal/mm"
	"github.com/craybond/craybond/internal/virtio"
)

// commonQueue* mirror virtio.CommonQueue* under the names setupQueue
// already used; the feature/status registers now live in the shared
// virtio package since Handshake owns them.
const (
	commonQueueSelect    = virtio.CommonQueueSelect
	commonQueueEnable    = virtio.CommonQueueEnable
	commonQueueDescLow   = virtio.CommonQueueDescLow
	commonQueueDescHigh  = virtio.CommonQueueDescHigh
	commonQueueAvailLow  = virtio.CommonQueueAvailLow
	commonQueueAvailHigh = virtio.CommonQueueAvailHigh
	commonQueueUsedLow   = virtio.CommonQueueUsedLow
	commonQueueUsedHigh  = virtio.CommonQueueUsedHigh
	commonQueueNotifyOff = virtio.CommonQueueNotifyOff
)

// maxCommandRetries bounds command submission spinning, per the Open
// Question decision in SPEC_FULL.md §5.5: a device that never posts a
// used-ring entry fails the command instead of hanging the kernel.
const maxCommandRetries = 1_000_000

// Windows is the GPU device's BAR-relative register windows, resolved
// by the shared virtio capability walk (spec.md §4.7).
type Windows = virtio.Windows

// Device drives one VirtIO-GPU device through the status handshake
// and command protocol.
type Device struct {
	win   Windows
	vq    Virtqueue
	arena *mm.Arenas

	cmdBuf, respBuf uintptr

	// notifyOff is the control queue's device-reported queue_notify_off
	// (CommonQueueNotifyOff), read back once the queue is selected. The
	// doorbell write in submit is at this times win.NotifyMultiplier
	// (virtio-v1.1 §4.1.4.4), not a fixed offset.
	notifyOff uint16

	scanout scanoutInfo
}

// scanoutInfo is the display mode resolved from GET_DISPLAY_INFO, per
// spec.md §3/§4.7: the first enabled scanout's index and resolution.
// found is false when the device reported no enabled scanout at all,
// in which case the caller's own fallback width/height are used.
type scanoutInfo struct {
	index  uint32
	width  uint32
	height uint32
	found  bool
}

// ErrCommandTimeout is returned when a submitted command's used-ring
// entry never appears within maxCommandRetries spins.
var ErrCommandTimeout = fmt.Errorf("gpu: command timed out waiting for device")

// New performs the full status handshake and queue setup described in
// spec.md §4.7, allocating the virtqueue and command/response buffers
// from the permanent arena.
func New(win Windows, arena *mm.Arenas) (*Device, error) {
	d := &Device{win: win, arena: arena}

	if _, err := virtio.Handshake(d.win); err != nil {
		return nil, fmt.Errorf("gpu: %w", err)
	}

	if err := d.setupQueue(0); err != nil {
		return nil, fmt.Errorf("gpu: setting up control queue: %w", err)
	}

	const cmdRespSize = 256
	cmdAddr, err := arena.PermanentAllocate(cmdRespSize)
	if err != nil {
		return nil, fmt.Errorf("gpu: allocating command buffer: %w", err)
	}
	respAddr, err := arena.PermanentAllocate(cmdRespSize)
	if err != nil {
		return nil, fmt.Errorf("gpu: allocating response buffer: %w", err)
	}
	d.cmdBuf, d.respBuf = cmdAddr, respAddr

	virtio.SetDriverOK(d.win)

	info, err := d.getDisplayInfo()
	if err != nil {
		return nil, fmt.Errorf("gpu: querying display info: %w", err)
	}
	d.scanout = info

	return d, nil
}

// getDisplayInfo submits GET_DISPLAY_INFO and parses the pmodes
// response, per spec.md §4.7's required command sequence
// (GET_DISPLAY_INFO → RESOURCE_CREATE_2D → RESOURCE_ATTACH_BACKING →
// SET_SCANOUT). It returns the first enabled scanout; found is false
// if every pmodes entry comes back disabled.
func (d *Device) getDisplayInfo() (scanoutInfo, error) {
	hdr := (*ctrlHeader)(unsafe.Pointer(d.cmdBuf))
	*hdr = ctrlHeader{Type: cmdGetDisplayInfo}

	respType, err := d.submit(uint32(unsafe.Sizeof(*hdr)), uint32(unsafe.Sizeof(respDisplayInfo{})))
	if err != nil {
		return scanoutInfo{}, err
	}
	if respType != respOKDisplayInfo {
		return scanoutInfo{}, fmt.Errorf("gpu: GET_DISPLAY_INFO failed, response %#x", respType)
	}

	resp := (*respDisplayInfo)(unsafe.Pointer(d.respBuf))
	for i, pm := range resp.Pmodes {
		if pm.Enabled != 0 {
			return scanoutInfo{index: uint32(i), width: pm.R.Width, height: pm.R.Height, found: true}, nil
		}
	}
	return scanoutInfo{}, nil
}

// ScanoutInfo returns the scanout index and resolution to configure,
// preferring what GET_DISPLAY_INFO reported and falling back to the
// caller-supplied dimensions on scanout 0 when the device reported
// none enabled.
func (d *Device) ScanoutInfo(fallbackWidth, fallbackHeight uint32) (scanoutID, width, height uint32) {
	if d.scanout.found {
		return d.scanout.index, d.scanout.width, d.scanout.height
	}
	return 0, fallbackWidth, fallbackHeight
}

func (d *Device) setupQueue(index uint16) error {
	descSize := uintptr(queueSize) * 16  // sizeof(Descriptor) == 16
	availSize := uintptr(6 + queueSize*2) // flags+idx+ring
	usedSize := uintptr(6 + queueSize*8)  // flags+idx+ring of {id,len}

	descAddr, err := d.arena.PermanentAllocate(descSize)
	if err != nil {
		return err
	}
	availAddr, err := d.arena.PermanentAllocate(availSize)
	if err != nil {
		return err
	}
	usedAddr, err := d.arena.PermanentAllocate(usedSize)
	if err != nil {
		return err
	}

	d.vq.Desc = (*[queueSize]Descriptor)(unsafe.Pointer(descAddr))
	d.vq.Avail = (*Avail)(unsafe.Pointer(availAddr))
	d.vq.Used = (*Used)(unsafe.Pointer(usedAddr))

	d.win.Common.Write16(commonQueueSelect, index)
	d.win.Common.Write32(commonQueueDescLow, uint32(descAddr))
	d.win.Common.Write32(commonQueueDescHigh, uint32(uint64(descAddr)>>32))
	d.win.Common.Write32(commonQueueAvailLow, uint32(availAddr))
	d.win.Common.Write32(commonQueueAvailHigh, uint32(uint64(availAddr)>>32))
	d.win.Common.Write32(commonQueueUsedLow, uint32(usedAddr))
	d.win.Common.Write32(commonQueueUsedHigh, uint32(uint64(usedAddr)>>32))
	d.notifyOff = d.win.Common.Read16(commonQueueNotifyOff)
	d.win.Common.Write16(commonQueueEnable, 1)

	return nil
}

// submit implements spec.md §4.7's single-threaded command-submission
// sequence, spinning (bounded) for the device to post a used-ring
// entry.
func (d *Device) submit(cmdSize, respSize uint32) (uint32, error) {
	d.vq.Desc[0] = Descriptor{Addr: uint64(d.cmdBuf), Len: cmdSize, Flags: descFNext, Next: 1}
	d.vq.Desc[1] = Descriptor{Addr: uint64(d.respBuf), Len: respSize, Flags: descFWrite}

	slot := d.vq.Avail.Idx % queueSize
	d.vq.Avail.Ring[slot] = 0
	d.vq.Avail.Idx++

	d.win.Notify.Write16(uintptr(d.notifyOff)*uintptr(d.win.NotifyMultiplier), 0)

	for i := 0; i < maxCommandRetries; i++ {
		if d.vq.Used.Idx != d.vq.lastUsed {
			d.vq.lastUsed = d.vq.Used.Idx
			break
		}
		if i == maxCommandRetries-1 {
			return 0, ErrCommandTimeout
		}
	}

	resp := (*ctrlHeader)(unsafe.Pointer(d.respBuf))
	return resp.Type, nil
}

// SetupFramebuffer performs RESOURCE_CREATE_2D, RESOURCE_ATTACH_BACKING
// and SET_SCANOUT for a single B8G8R8A8 framebuffer resource backed by
// fbAddr, per spec.md §4.7/§6. scanoutID selects which of the
// device's outputs to drive, normally the one ScanoutInfo resolved
// from GET_DISPLAY_INFO.
func (d *Device) SetupFramebuffer(resourceID, scanoutID, width, height uint32, fbAddr uintptr, fbSize uint32) error {
	create := (*resourceCreate2D)(unsafe.Pointer(d.cmdBuf))
	*create = resourceCreate2D{
		Hdr:        ctrlHeader{Type: cmdResourceCreate2D},
		ResourceID: resourceID,
		Format:     formatB8G8R8A8,
		Width:      width,
		Height:     height,
	}
	if respType, err := d.submit(uint32(unsafe.Sizeof(*create)), 24); err != nil {
		return err
	} else if respType != respOKNodata {
		return fmt.Errorf("gpu: RESOURCE_CREATE_2D failed, response %#x", respType)
	}

	attach := (*resourceAttachBacking)(unsafe.Pointer(d.cmdBuf))
	*attach = resourceAttachBacking{
		Hdr:        ctrlHeader{Type: cmdResourceAttachBack},
		ResourceID: resourceID,
		NrEntries:  1,
		Entry:      memEntry{Addr: uint64(fbAddr), Length: fbSize},
	}
	if respType, err := d.submit(uint32(unsafe.Sizeof(*attach)), 24); err != nil {
		return err
	} else if respType != respOKNodata {
		return fmt.Errorf("gpu: RESOURCE_ATTACH_BACKING failed, response %#x", respType)
	}

	scan := (*setScanout)(unsafe.Pointer(d.cmdBuf))
	*scan = setScanout{
		Hdr:        ctrlHeader{Type: cmdSetScanout},
		Rect:       rect{Width: width, Height: height},
		ScanoutID:  scanoutID,
		ResourceID: resourceID,
	}
	if respType, err := d.submit(uint32(unsafe.Sizeof(*scan)), 24); err != nil {
		return err
	} else if respType != respOKNodata {
		return fmt.Errorf("gpu: SET_SCANOUT failed, response %#x", respType)
	}

	return nil
}

// Flush implements the TRANSFER_TO_HOST_2D + RESOURCE_FLUSH pair used
// to push a dirty rectangle to the display, per spec.md §4.7.
func (d *Device) Flush(resourceID uint32, x, y, width, height uint32) error {
	xfer := (*transferToHost2D)(unsafe.Pointer(d.cmdBuf))
	*xfer = transferToHost2D{
		Hdr:        ctrlHeader{Type: cmdTransferToHost2D},
		Rect:       rect{X: x, Y: y, Width: width, Height: height},
		ResourceID: resourceID,
	}
	if respType, err := d.submit(uint32(unsafe.Sizeof(*xfer)), 24); err != nil {
		return err
	} else if respType != respOKNodata {
		return fmt.Errorf("gpu: TRANSFER_TO_HOST_2D failed, response %#x", respType)
	}

	flush := (*resourceFlush)(unsafe.Pointer(d.cmdBuf))
	*flush = resourceFlush{
		Hdr:        ctrlHeader{Type: cmdResourceFlush},
		Rect:       rect{X: x, Y: y, Width: width, Height: height},
		ResourceID: resourceID,
	}
	if respType, err := d.submit(uint32(unsafe.Sizeof(*flush)), 24); err != nil {
		return err
	} else if respType != respOKNodata {
		return fmt.Errorf("gpu: RESOURCE_FLUSH failed, response %#x", respType)
	}
	return nil
}
