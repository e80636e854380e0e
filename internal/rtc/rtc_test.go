package rtc

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

func TestNowReadsDataRegister(t *testing.T) {
	mem := make([]byte, 0x1000)
	binary.LittleEndian.PutUint32(mem[drOffset:], 1234567890)

	c := New(uintptr(unsafe.Pointer(&mem[0])))
	if got := c.Now(); got != 1234567890 {
		t.Fatalf("Now() = %d, want %d", got, 1234567890)
	}
}
