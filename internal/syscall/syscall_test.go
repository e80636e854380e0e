package syscall

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/craybond/craybond/internal/klog"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fullOwner struct{}

func (fullOwner) OwnsRange(ptr, size uintptr) bool { return true }

type noneOwner struct{}

func (noneOwner) OwnsRange(ptr, size uintptr) bool { return false }

func TestHandlePrintExpandsFormat(t *testing.T) {
	format := append([]byte("P%i"), 0)
	args := []Arg{7}

	var got string
	print := func(s string) { got = s }

	log := klog.New(discardWriter{}, klog.Info)
	Handle(log, fullOwner{},
		PRINT,
		uint64(uintptr(unsafe.Pointer(&format[0]))),
		uint64(uintptr(unsafe.Pointer(&args[0]))),
		1,
		print)

	if got != "P7" {
		t.Fatalf("expected %q, got %q", "P7", got)
	}
}

func TestHandlePrintRejectsOutOfRangeFormatPointer(t *testing.T) {
	format := append([]byte("hello"), 0)

	called := false
	print := func(s string) { called = true }

	log := klog.New(discardWriter{}, klog.Info)
	Handle(log, noneOwner{},
		PRINT,
		uint64(uintptr(unsafe.Pointer(&format[0]))),
		0, 0, print)

	if called {
		t.Fatal("print should not have been called for a rejected pointer")
	}
}

func TestExpandLiteralPercent(t *testing.T) {
	got := expand("100%done", nil)
	if !strings.Contains(got, "100%done") {
		t.Fatalf("expected literal passthrough, got %q", got)
	}
}
