package gpu

import (
	"github.com/craybond/craybond/internal/pci"
	"github.com/craybond/craybond/internal/virtio"
)

// Discover scans the given ECAM for the VirtIO-GPU device and resolves
// its capability windows via the shared virtio transport package. It
// returns ok=false (not an error) when no such device is present, so
// the caller can fall back to SoftwareScreen per spec.md §4.7.
func Discover(ecam *pci.ECAM, confBase uintptr) (Windows, bool, error) {
	return virtio.Discover(ecam, pci.VirtIOGPUDevice, confBase)
}
