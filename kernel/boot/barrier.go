package boot

import (
	"sync/atomic"

	"github.com/zdivelbiss/vellum/kernel/cpu"
)

// cpuPauseFn is mocked by tests, which otherwise spin real PAUSE
// instructions waiting on a barrier phase that only advances when another
// goroutine calls wait.
var cpuPauseFn = cpu.Pause

// storeRelease is a release-ordered store, used for the bootloader's
// polled goto fields and the cyclic barrier counters below; on amd64
// every store already has release semantics, but spelling it through
// sync/atomic documents the cross-thread handoff instead of relying on
// that incidentally.
func storeRelease(addr *uint64, v uint64) {
	atomic.StoreUint64(addr, v)
}

// cyclicBarrier is a hand-rolled rendezvous point for a fixed set of
// hardware threads, used instead of sync.WaitGroup or golang.org/x/sync's
// errgroup because at this point in the multiprocessing synchronize/reclaim
// sequence secondary threads have not yet installed a Go scheduler of their
// own to block on — there is nothing backing a goroutine park/wake here,
// only raw spin-wait over an atomic counter, same as every other
// cross-thread rendezvous this core performs before Init finishes.
type cyclicBarrier struct {
	parties int32
	count   int32
	phase   int32
}

func newCyclicBarrier(parties int) *cyclicBarrier {
	return &cyclicBarrier{parties: int32(parties)}
}

// wait blocks the calling thread until every party has called wait for the
// current phase, then advances to the next phase and returns. Safe to call
// repeatedly (the barrier is cyclic): a thread that calls wait again after
// the phase has advanced simply starts waiting on the new phase.
func (b *cyclicBarrier) wait() {
	startPhase := atomic.LoadInt32(&b.phase)
	if atomic.AddInt32(&b.count, 1) == b.parties {
		atomic.StoreInt32(&b.count, 0)
		atomic.AddInt32(&b.phase, 1)
		return
	}
	for atomic.LoadInt32(&b.phase) == startPhase {
		cpuPauseFn()
	}
}
