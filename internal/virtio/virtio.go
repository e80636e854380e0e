// Package virtio factors out the device-independent pieces of the
// VirtIO 1.x transport shared by every device this kernel drives over
// PCI: the common-configuration register layout, the status
// handshake, and capability-driven window discovery. spec.md scopes
// the driver narrowly to the GPU, but the ACK→DRIVER→FEATURES_OK→
// DRIVER_OK sequence and the BAR/capability resolution it runs on top
// of are generic to any VirtIO-over-PCI device, so internal/gpu and
// internal/rng both build on this package instead of repeating it.
package virtio

import (
	"fmt"

	"github.com/craybond/craybond/internal/volatile"
)

// Common-config register offsets, identical for every VirtIO 1.x
// device regardless of device type.
const (
	CommonDeviceFeatureSelect = 0x00
	CommonDeviceFeature       = 0x04
	CommonDriverFeatureSelect = 0x08
	CommonDriverFeature       = 0x0C
	CommonDeviceStatus        = 0x14
	CommonQueueSelect         = 0x16
	CommonQueueSize           = 0x18
	CommonQueueEnable         = 0x1C
	CommonQueueNotifyOff      = 0x1E
	CommonQueueDescLow        = 0x20
	CommonQueueDescHigh       = 0x24
	CommonQueueAvailLow       = 0x28
	CommonQueueAvailHigh      = 0x2C
	CommonQueueUsedLow        = 0x30
	CommonQueueUsedHigh       = 0x34
)

// Device status bits (virtio-v1.1 §2.1).
const (
	StatusAcknowledge = 1 << 0
	StatusDriver      = 1 << 1
	StatusFeaturesOK  = 1 << 3
	StatusDriverOK    = 1 << 2
	StatusFailed      = 0x80
)

// Windows bundles the BAR-relative register windows a capability walk
// resolves for one VirtIO device (spec.md §4.7).
type Windows struct {
	Common volatile.Window
	Notify volatile.Window
	ISR    volatile.Window
	Device volatile.Window

	NotifyMultiplier uint32
}

// ErrDeviceFailed is returned when FEATURES_OK does not stick during
// Handshake.
var ErrDeviceFailed = fmt.Errorf("virtio: device rejected FEATURES_OK")

// Handshake runs the device-independent half of the VirtIO reset
// sequence: reset, ACKNOWLEDGE, DRIVER, accept whatever features the
// device offers unchanged, then DRIVER_OK pending (FEATURES_OK only —
// the caller still owes a call to SetDriverOK once its queues are
// configured, since DRIVER_OK must not be set until then). Grounded on
// the repeated ACK→DRIVER→FEATURES_OK→DRIVER_OK sequence every VirtIO
// device driver in this tree performs identically.
func Handshake(win Windows) (features uint32, err error) {
	win.Common.Write8(CommonDeviceStatus, 0)
	for win.Common.Read8(CommonDeviceStatus) != 0 {
	}

	win.Common.Write8(CommonDeviceStatus, StatusAcknowledge)
	win.Common.Write8(CommonDeviceStatus, StatusAcknowledge|StatusDriver)

	win.Common.Write32(CommonDeviceFeatureSelect, 0)
	features = win.Common.Read32(CommonDeviceFeature)
	win.Common.Write32(CommonDriverFeatureSelect, 0)
	win.Common.Write32(CommonDriverFeature, features)

	win.Common.Write8(CommonDeviceStatus, StatusAcknowledge|StatusDriver|StatusFeaturesOK)
	status := win.Common.Read8(CommonDeviceStatus)
	if status&StatusFeaturesOK == 0 {
		win.Common.Write8(CommonDeviceStatus, status|StatusFailed)
		return 0, ErrDeviceFailed
	}
	return features, nil
}

// SetDriverOK sets the DRIVER_OK bit, the handshake's final step, once
// the caller's queues are set up and it is ready to receive requests.
func SetDriverOK(win Windows) {
	status := win.Common.Read8(CommonDeviceStatus)
	win.Common.Write8(CommonDeviceStatus, status|StatusDriverOK)
}
