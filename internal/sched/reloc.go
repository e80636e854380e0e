package sched

import "fmt"

// RelocDiagnostic describes one instruction the relocator could not
// rewrite, replacing the teacher's printed "unsupported" messages with
// a structured value (spec.md §9's "dedicated relocator module"
// redesign flag).
type RelocDiagnostic struct {
	Offset uintptr // byte offset into the code segment
	Insn   uint32
	Reason string
}

// relocate copies src into dst, rewriting every PC-relative branch and
// adrp whose target crosses from source addressing to destination
// addressing, per spec.md §4.5's relocation algorithm. srcBase/dstBase
// are the code segment's original and new addresses; srcDataBase and
// dataSize bound the one external region (the task's copied data
// segment) that adrp is allowed to target.
func relocate(dst, src []uint32, srcBase, dstBase, srcDataBase, dstDataBase uint64, codeSize uintptr, dataSize uintptr) []RelocDiagnostic {
	var diags []RelocDiagnostic

	for i, insn := range src {
		srcPC := srcBase + uint64(i)*4
		dstPC := dstBase + uint64(i)*4

		switch {
		case isUnconditionalBranch(insn):
			dst[i] = relocBranch26(insn, srcPC, dstPC, srcBase, codeSize)

		case isConditionalBranch(insn):
			dst[i] = relocBranch19(insn, srcPC, dstPC, srcBase, codeSize)

		case isADRP(insn):
			rewritten, ok := relocADRP(insn, srcPC, dstPC, srcDataBase, dstDataBase, dataSize)
			if !ok {
				diags = append(diags, RelocDiagnostic{
					Offset: uintptr(i) * 4,
					Insn:   insn,
					Reason: "adrp target outside provided data segment",
				})
				dst[i] = insn
				continue
			}
			dst[i] = rewritten

		default:
			dst[i] = insn
		}
	}

	return diags
}

func isUnconditionalBranch(insn uint32) bool {
	op := insn >> 26
	return op == 0b000101 || op == 0b100101
}

func isConditionalBranch(insn uint32) bool {
	return insn>>24 == 0b01010100
}

func isADRP(insn uint32) bool {
	// bits [31] and [28:24] = 1_10000, per the adrp encoding.
	return insn&0x9F000000 == 0x90000000
}

func inSegment(target, base uint64, size uintptr) bool {
	if target < base {
		return false
	}
	return target-base < uint64(size)
}

// relocBranch26 rewrites an unconditional B/BL's 26-bit signed
// word-offset immediate. A target inside the source code segment is
// left with its original immediate (the whole segment moves by the
// same displacement, so the relative offset is still correct);
// an external target keeps its absolute address and only the
// displacement from the new PC is recomputed.
func relocBranch26(insn uint32, srcPC, dstPC, srcCodeBase uint64, codeSize uintptr) uint32 {
	imm := int32(insn<<6) >> 6 // sign-extend bits [25:0]
	target := uint64(int64(srcPC) + int64(imm)*4)

	if inSegment(target, srcCodeBase, codeSize) {
		return insn
	}

	newImm := (int64(target) - int64(dstPC)) / 4
	return (insn &^ 0x03FFFFFF) | uint32(newImm)&0x03FFFFFF
}

// relocBranch19 rewrites a conditional branch's 19-bit signed
// word-offset immediate (bits [23:5]), with the same internal/external
// rule as relocBranch26.
func relocBranch19(insn uint32, srcPC, dstPC, srcCodeBase uint64, codeSize uintptr) uint32 {
	imm := int32(insn<<8) >> 13 // sign-extend bits [23:5] after shifting into place
	target := uint64(int64(srcPC) + int64(imm)*4)

	if inSegment(target, srcCodeBase, codeSize) {
		return insn
	}

	newImm := (int64(target) - int64(dstPC)) / 4
	return (insn &^ (0x7FFFF << 5)) | (uint32(newImm)&0x7FFFF)<<5
}

// relocADRP decodes immhi:immlo into a 33-bit signed page offset,
// computes the absolute target page, and — only if that target lies
// in the source data segment [srcDataBase, srcDataBase+dataSize) —
// translates it to dstDataBase + (target - srcDataBase) and re-encodes
// the instruction against the destination PC page.
func relocADRP(insn uint32, srcPC, dstPC, srcDataBase, dstDataBase uint64, dataSize uintptr) (uint32, bool) {
	immlo := uint64(insn>>29) & 0x3
	immhi := uint64(insn>>5) & 0x7FFFF
	raw := (immhi << 2) | immlo
	imm := signExtend(raw, 21) << 12 // page-granular, so shift into a byte offset

	srcPage := srcPC &^ 0xFFF
	target := uint64(int64(srcPage) + imm)

	if !inSegment(target, srcDataBase, dataSize) {
		return insn, false
	}

	newTarget := dstDataBase + (target - srcDataBase)
	dstPage := dstPC &^ 0xFFF
	newImm := int64(newTarget) - int64(dstPage)

	page := newImm >> 12
	lo := uint32(page) & 0x3
	hi := uint32(page>>2) & 0x7FFFF

	out := insn &^ ((0x3 << 29) | (0x7FFFF << 5))
	out |= lo << 29
	out |= hi << 5
	return out, true
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// String implements error-friendly formatting for logging a batch of
// diagnostics.
func (d RelocDiagnostic) String() string {
	return fmt.Sprintf("offset=%#x insn=%#08x reason=%s", d.Offset, d.Insn, d.Reason)
}
