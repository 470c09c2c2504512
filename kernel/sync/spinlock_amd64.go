package sync

import (
	"sync/atomic"

	"github.com/zdivelbiss/vellum/kernel/cpu"
)

// archAcquireSpinlock busy-waits on state, executing a PAUSE between
// attempts to reduce bus contention with whichever hardware thread holds
// the lock, and calling yieldFn every attemptsBeforeYielding failed tries.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	var attempts uint32
	for !atomic.CompareAndSwapUint32(state, 0, 1) {
		cpu.Pause()

		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}
