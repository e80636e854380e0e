package trap

import (
	"strconv"

	"github.com/craybond/craybond/internal/klog"
)

// hex renders v as a zero-padded 16-digit hex string without going
// through fmt, matching the teacher's direct-UART hex printers.
func hex(v uint64) string {
	s := strconv.FormatUint(v, 16)
	if len(s) < 16 {
		s = zeroPad[:16-len(s)] + s
	}
	return "0x" + s
}

const zeroPad = "0000000000000000"

// Fatal renders the syndrome state and the current task's ID, then
// logs at klog.Fatal — which halts. The banner
// text is exact, per spec.md §8 scenario 3.
func Fatal(log *klog.Logger, info Info, taskID int) {
	log.Fatal("*** CRAYON DOESN'T DRAW ANYMORE ***",
		klog.Field("kind", info.Kind.String()),
		klog.Field("task", strconv.Itoa(taskID)),
		klog.Field("ec", hex(uint64(info.EC()))),
		klog.Field("elr", hex(info.ELR)),
		klog.Field("esr", hex(info.ESR)),
		klog.Field("far", hex(info.FAR)),
		klog.Field("spsr", hex(info.SPSR)),
	)
}
