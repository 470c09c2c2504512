package boot

import (
	"reflect"
	"sync/atomic"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/config"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/kfmt"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
	"github.com/zdivelbiss/vellum/kernel/sched"
)

// secondaryEntryPoint is secondaryEntry's code address, computed once via
// reflect for the same reason sched's idleEntryPoint is: Go gives no other
// portable way to turn a top-level function into a raw instruction pointer.
// Limine invokes a secondary thread's goto target with a single argument,
// the physical address of that thread's own mpCPUInfo struct, matching
// ThreadDescriptor.Start's extraArg convention.
var secondaryEntryPoint = uint64(reflect.ValueOf(secondaryEntry).Pointer())

// secondaryEntry is what every secondary hardware thread's goto field
// points at. It recovers its own processor/LAPIC ids out of the
// mpCPUInfo the bootloader's trampoline passed, then falls into the same
// bring-up path the bootstrap thread already ran.
func secondaryEntry(infoAddr uintptr) {
	c := (*mpCPUInfo)(unsafe.Pointer(infoAddr))
	secondaryTrampoline(c.processorID, c.lapicID)
}

// secondaryTrampoline installs the kernel's own page tables (the only
// per-thread prerequisite the reclaim dance needs), joins the
// synchronize/reclaim barrier pair, then runs the rest of per-thread
// bring-up and idles exactly like the bootstrap thread does.
func secondaryTrampoline(threadID uint32, lapicID uint32) {
	kernelSpace.SwapInto()

	reclaimLoop()

	bringUpThread(threadID, lapicID)

	cpu.EnableInterrupts()
	sched.Idle()
}

// currentlyOnStack reports whether addr falls within [base, base+length) of
// this thread's own stack. There is no portable way to read RSP from Go
// directly, so this approximates it with the address of a local variable
// on the calling goroutine-less thread's stack, which for the raw,
// single-stack execution context every thread runs in before its scheduler
// exists is the same stack pointer a direct RSP read would give.
func currentlyOnStack(base, length uintptr) bool {
	var probe byte
	addr := uintptr(unsafe.Pointer(&probe))
	return addr >= base && addr < base+length
}

// reclaimLoop is the secondary-thread side of the two-barrier
// synchronize/reclaim protocol: for every BOOTLOADER_RECLAIMABLE entry the
// bootstrap thread publishes into reclaimRange, check whether this
// thread's own stack lives inside it, and if so mark isEntryUsed so the
// bootstrap thread knows not to free it. An empty published range is the
// bootstrap's signal that every entry has been processed.
func reclaimLoop() {
	for {
		entryReadyBarrier.wait()

		base, length := reclaimRange.base, reclaimRange.length
		if length == 0 {
			entryProcessedBarrier.wait()
			return
		}

		if currentlyOnStack(base, length) {
			atomic.StoreUint32(&isEntryUsed, 1)
		}

		entryProcessedBarrier.wait()
	}
}

// runMultiprocessingBarrier starts every secondary thread reported in
// info.Threads (unless --nomp asked for single-threaded boot) at
// secondaryEntry, then drives the bootstrap side of the reclaim loop:
// publish each BOOTLOADER_RECLAIMABLE memory-map entry in turn, let every
// thread check whether it is standing on that entry's stack, and free the
// entry's frames back to the PFM only if none of them were. Returns once
// every thread (including the caller) has cleared the protocol and is free
// to proceed into its own idle wait.
func runMultiprocessingBarrier(info *BootInfo) {
	secondaries := 0
	if config.UseMultiprocessing() {
		for _, t := range info.Threads {
			if t.LAPICID != info.BootstrapLAPICID {
				secondaries++
			}
		}
	}

	entryReadyBarrier = newCyclicBarrier(secondaries + 1)
	entryProcessedBarrier = newCyclicBarrier(secondaries + 1)

	if secondaries > 0 {
		for _, t := range info.Threads {
			if t.LAPICID == info.BootstrapLAPICID {
				continue
			}
			t.Start(uintptr(secondaryEntryPoint))
		}
	}

	reclaimed, kept := 0, 0
	for _, e := range info.MemoryMap {
		if e.Type != pmm.BootloaderReclaimable {
			continue
		}

		atomic.StoreUint32(&isEntryUsed, 0)
		reclaimRange.base, reclaimRange.length = e.Base, e.Length
		entryReadyBarrier.wait()
		entryProcessedBarrier.wait()

		if atomic.LoadUint32(&isEntryUsed) != 0 {
			kept++
			continue
		}

		freeEntryFrames(e)
		reclaimed++
	}

	reclaimRange.base, reclaimRange.length = 0, 0
	entryReadyBarrier.wait()
	entryProcessedBarrier.wait()

	kfmt.Printf("[boot] reclaimed %d bootloader-owned memory-map entries (%d kept as live stacks)\n", reclaimed, kept)
}

// freeEntryFrames hands every frame in a reclaimed memory-map entry back
// to the physical frame manager.
func freeEntryFrames(e pmm.MemoryMapEntry) {
	base := e.Base &^ (uintptr(mem.PageSize) - 1)
	end := (e.End() + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)

	for addr := base; addr < end; addr += uintptr(mem.PageSize) {
		if err := frames.FreeFrame(mem.AddrOf[mem.Frame](addr)); err != nil {
			kernel.Panic(err)
		}
	}
}
