package boot

import (
	"encoding/binary"
	"testing"
)

// buildMinimalFDT assembles a tiny well-formed FDT blob containing a
// root node, one memory node, and one pci-host-ecam-generic node, each
// with a "reg" property, so Parse can be exercised without real
// firmware.
func buildMinimalFDT(t *testing.T) []byte {
	t.Helper()

	var strs []byte
	regOff := len(strs)
	strs = append(strs, "reg\x00"...)

	putStr := func(s string) uint32 {
		off := uint32(len(strs))
		strs = append(strs, s+"\x00"...)
		return off
	}
	_ = regOff
	regNameOff := putStr("reg")

	var structBlock []byte
	putU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		structBlock = append(structBlock, b[:]...)
	}
	putAlignedName := func(name string) {
		structBlock = append(structBlock, name...)
		structBlock = append(structBlock, 0)
		for len(structBlock)%4 != 0 {
			structBlock = append(structBlock, 0)
		}
	}
	putProp := func(nameOff uint32, value []byte) {
		putU32(fdtProp)
		putU32(uint32(len(value)))
		putU32(nameOff)
		structBlock = append(structBlock, value...)
		for len(structBlock)%4 != 0 {
			structBlock = append(structBlock, 0)
		}
	}
	reg64 := func(addr, size uint64) []byte {
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:], addr)
		binary.BigEndian.PutUint64(b[8:], size)
		return b[:]
	}

	// root node
	putU32(fdtBeginNode)
	putAlignedName("")

	// memory@40000000
	putU32(fdtBeginNode)
	putAlignedName("memory@40000000")
	putProp(regNameOff, reg64(0x40000000, 0x40000000))
	putU32(fdtEndNode)

	// pcie@4010000000
	putU32(fdtBeginNode)
	putAlignedName("pcie@4010000000")
	putProp(regNameOff, reg64(0x4010000000, 0x10000000))
	putU32(fdtEndNode)

	putU32(fdtEndNode) // root
	putU32(fdtEnd)

	headerSize := 40
	offStruct := headerSize
	offStrings := offStruct + len(structBlock)
	total := offStrings + len(strs)

	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:], fdtMagic)
	binary.BigEndian.PutUint32(blob[4:], uint32(total))
	binary.BigEndian.PutUint32(blob[8:], uint32(offStruct))
	binary.BigEndian.PutUint32(blob[12:], uint32(offStrings))
	binary.BigEndian.PutUint32(blob[16:], 0)
	binary.BigEndian.PutUint32(blob[20:], 17)
	binary.BigEndian.PutUint32(blob[24:], 16)
	binary.BigEndian.PutUint32(blob[28:], 0)
	binary.BigEndian.PutUint32(blob[32:], uint32(len(strs)))
	binary.BigEndian.PutUint32(blob[36:], uint32(len(structBlock)))

	copy(blob[offStruct:], structBlock)
	copy(blob[offStrings:], strs)

	return blob
}

func TestParseExtractsMemoryAndPCIECAM(t *testing.T) {
	blob := buildMinimalFDT(t)

	tree, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(tree.Memory) != 1 || tree.Memory[0].Reg.Address != 0x40000000 {
		t.Fatalf("memory region not parsed correctly: %+v", tree.Memory)
	}
	if tree.PCIECAM == nil || tree.PCIECAM.Address != 0x4010000000 {
		t.Fatalf("PCI ECAM region not parsed correctly: %+v", tree.PCIECAM)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	blob := make([]byte, 64)
	if _, err := Parse(blob); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestFromTreeOverlaysECAMBase(t *testing.T) {
	blob := buildMinimalFDT(t)
	tree, err := Parse(blob)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg := FromTree(tree)
	if cfg.PCIECAMBase != 0x4010000000 {
		t.Fatalf("PCIECAMBase = %#x, want %#x", cfg.PCIECAMBase, uintptr(0x4010000000))
	}
	if cfg.TickMs != 10 {
		t.Fatalf("TickMs default not preserved: got %d", cfg.TickMs)
	}
}
