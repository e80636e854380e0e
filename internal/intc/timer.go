package intc

import "github.com/craybond/craybond/internal/sysreg"

// Timer programs the ARM generic physical timer for a periodic tick,
// per spec.md §4.4. It reads CNTFRQ_EL0 once at construction and
// recomputes the reload value from the caller-specified interval.
type Timer struct {
	freqHz   uint64
	intervalMs uint64
}

// NewTimer reads the counter-frequency register and returns a Timer
// not yet armed; call Start to program the first interval.
func NewTimer() *Timer {
	return &Timer{freqHz: sysreg.CounterFreqHz()}
}

// Start programs the physical timer to fire every intervalMs
// milliseconds and enables it.
func (t *Timer) Start(intervalMs uint64) {
	t.intervalMs = intervalMs
	t.reload()
	sysreg.SetPhysTimerCtl(1) // ENABLE=1, IMASK=0
}

// Reset reprograms the timer-value register for another interval at
// the same cadence, per spec.md §4.4's timer_reset().
func (t *Timer) Reset() {
	t.reload()
}

func (t *Timer) reload() {
	ticks := t.freqHz * t.intervalMs / 1000
	sysreg.SetPhysTimerValue(ticks)
}
