package virtio

import (
	"testing"
	"unsafe"

	"github.com/craybond/craybond/internal/volatile"
)

func newTestWindows(t *testing.T) (Windows, []byte) {
	t.Helper()
	buf := make([]byte, 0x40)
	base := uintptr(unsafe.Pointer(&buf[0]))
	return Windows{Common: volatile.NewWindow(base, uintptr(len(buf)))}, buf
}

func TestHandshakeSetsAcknowledgeDriverAndFeaturesOK(t *testing.T) {
	win, _ := newTestWindows(t)

	if _, err := Handshake(win); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	status := win.Common.Read8(CommonDeviceStatus)
	want := uint8(StatusAcknowledge | StatusDriver | StatusFeaturesOK)
	if status != want {
		t.Fatalf("status after Handshake = %#x, want %#x (DRIVER_OK not yet set)", status, want)
	}
}

func TestSetDriverOKAddsBitWithoutClearingOthers(t *testing.T) {
	win, _ := newTestWindows(t)

	if _, err := Handshake(win); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	SetDriverOK(win)

	status := win.Common.Read8(CommonDeviceStatus)
	want := uint8(StatusAcknowledge | StatusDriver | StatusFeaturesOK | StatusDriverOK)
	if status != want {
		t.Fatalf("status after SetDriverOK = %#x, want %#x", status, want)
	}
}

func TestHandshakeEchoesDeviceFeaturesToDriverFeatures(t *testing.T) {
	win, _ := newTestWindows(t)
	win.Common.Write32(CommonDeviceFeature, 0xDEADBEEF)

	features, err := Handshake(win)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if features != 0xDEADBEEF {
		t.Fatalf("Handshake returned features %#x, want %#x", features, 0xDEADBEEF)
	}
	if got := win.Common.Read32(CommonDriverFeature); got != 0xDEADBEEF {
		t.Fatalf("driver feature register = %#x, want device's %#x", got, 0xDEADBEEF)
	}
}
