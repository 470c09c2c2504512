package boot

import (
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/config"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/diag"
	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/kfmt"
	"github.com/zdivelbiss/vellum/kernel/lapic"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
	"github.com/zdivelbiss/vellum/kernel/mem/hhdm"
	"github.com/zdivelbiss/vellum/kernel/mem/kalloc"
	"github.com/zdivelbiss/vellum/kernel/mem/paging"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
	"github.com/zdivelbiss/vellum/kernel/rand"
	"github.com/zdivelbiss/vellum/kernel/sched"
	ksync "github.com/zdivelbiss/vellum/kernel/sync"
	"github.com/zdivelbiss/vellum/kernel/syscall"
	ktime "github.com/zdivelbiss/vellum/kernel/time"
)

// pagingDepth is fixed at 4 (no LA57 detection is wired up yet; every
// example platform this core targets runs in 4-level paging).
const pagingDepth = 4

// localState is the per-hardware-thread block addressed through the GS
// base MSR: the thread's own Scheduler and its thread id.
type localState struct {
	scheduler *sched.Scheduler
	threadID  uint32
}

var (
	frames       *pmm.Manager
	kernelMapper *paging.Mapper
	kernelSpace  *addrspace.AddressSpace
)

// entryReadyBarrier and entryProcessedBarrier implement §5's two-barrier
// reclaim protocol; they are package-level because every secondary thread's
// trampoline reaches them through secondaryEntry (see mp.go), not through
// any value Init can pass as a parameter. Both are sized and replaced once
// per boot, in runMultiprocessingBarrier, once the thread count is known.
var (
	entryReadyBarrier     *cyclicBarrier
	entryProcessedBarrier *cyclicBarrier
	reclaimRange          struct {
		base, length uintptr
	}
	isEntryUsed uint32
)

// Init runs once, on the bootstrap hardware thread, after the bootloader's
// rt0 stub has handed control to Go code. It performs every step of init
// orchestration up through entering the multiprocessing barrier, and does
// not return: the bootstrap thread ends up idling in the scheduler exactly
// like every other thread once bring-up finishes.
func Init(info *BootInfo) {
	kernel.SetHaltFn(cpu.Halt)
	ksync.SetYieldFn(nil) // no task is runnable yet; installed for real once the scheduler exists below

	config.Parse(info.CommandLine)

	hhdm.Init(info.HHDMBase)

	var err *kernel.Error
	frames, err = pmm.New(info.MemoryMap, func(phys uintptr) uintptr {
		return hhdm.Offset(mem.AddrOf[mem.Physical](phys)).Value()
	})
	if err != nil {
		kernel.Panic(err)
	}
	kalloc.Init(frames)

	kernelMapper, err = paging.New(frames, pagingDepth)
	if err != nil {
		kernel.Panic(err)
	}
	kernelSpace = addrspace.New(kernelMapper)

	remapMemoryMap(info.MemoryMap)
	remapKernelSegments(info.KernelSegments)

	kernelSpace.SwapInto()

	diag.SetFaultReader(makeFaultReader())

	if pmTimer, err := discoverPMTimer(hhdm.Offset(mem.AddrOf[mem.Physical](info.RSDP)).Value()); err == nil {
		ktime.InitStopwatch(pmTimer)
	} else {
		kfmt.Printf("[boot] PM timer discovery failed: %s; timekeeping unavailable\n", err.Message)
	}

	low, high := cpu.ReadTSC(), cpu.ReadTSC()+1
	rand.Seed(low, high)

	irq.HandleIRQ(dispatchIRQ)

	bringUpThread(0, info.BootstrapLAPICID)

	runMultiprocessingBarrier(info)

	cpu.EnableInterrupts()
	sched.Idle()
}

// remapMemoryMap installs a direct mapping (virtual == HHDM-offset
// physical) for every memory-map entry at the permission init orchestration
// specifies: USABLE/ACPI-reclaimable/framebuffer get RW, everything else
// (reserved, executable-and-modules, ACPI NVS, bad memory) is mapped RO so
// stray writes into firmware-owned regions fault instead of corrupting
// them silently.
func remapMemoryMap(memMap []pmm.MemoryMapEntry) {
	for _, e := range memMap {
		perm := addrspace.ReadOnly
		switch e.Type {
		case pmm.Usable, pmm.ACPIReclaimable, pmm.Framebuffer:
			perm = addrspace.ReadWrite
		}

		base := e.Base &^ (uintptr(mem.PageSize) - 1)
		end := (e.End() + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
		pageCount := int((end - base) / uintptr(mem.PageSize))

		page := hhdm.OffsetFrame(mem.AddrOf[mem.Frame](base))
		if err := kernelSpace.EnsureMapped(page, pageCount, perm); err != nil {
			kernel.Panic(err)
		}
	}
}

// remapKernelSegments maps the kernel's own PT_LOAD segments at their
// linked virtual addresses with their ELF-declared permissions, so the
// kernel's code and data end up correctly protected once paging is fully
// under this core's control rather than the bootloader's identity map.
func remapKernelSegments(segs []KernelSegment) {
	for _, seg := range segs {
		base := seg.VirtAddr &^ (uintptr(mem.PageSize) - 1)
		end := (seg.VirtAddr + seg.MemSize + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
		pageCount := int((end - base) / uintptr(mem.PageSize))

		page := mem.AddrOf[mem.Page](base)
		if err := kernelSpace.EnsureMapped(page, pageCount, seg.Perm); err != nil {
			kernel.Panic(err)
		}
	}
}

// makeFaultReader builds the byte-reader diag.DecodeFaultSite uses to fetch
// instruction bytes at a faulting rip: a bounds-checked read that refuses
// addresses this core hasn't mapped, so a bad rip never escalates a panic
// path into a second fault.
func makeFaultReader() func(addr uintptr, n int) ([]byte, bool) {
	return func(addr uintptr, n int) ([]byte, bool) {
		page := mem.AddrOf[mem.Page](addr &^ (uintptr(mem.PageSize) - 1))
		if !kernelSpace.IsMmapped(page) {
			return nil, false
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n), true
	}
}

// bringUpThread performs CPU Setup (§4.6) for one hardware thread: control
// registers, GDT, IDT, TSS, GS-base Local State, the LIC, and a Local Timer
// and Scheduler wired together and left idling. Called once per thread,
// bootstrap and secondary alike.
func bringUpThread(threadID uint32, lapicID uint32) *localState {
	state := &localState{threadID: threadID}

	cpu.Setup(irq.InstallIDT, uintptr(unsafe.Pointer(state)))

	lapic.Enable()
	_, _, ecx1, edx1 := cpu.ID(1)
	hasCMCI := ecx1&(1<<7) != 0
	hasPerfCounter := ecx1&(1<<15) != 0 // approximate: architectural PMU leaf 0xA is the precise source
	hasThermal := edx1&(1<<22) != 0     // EDX.ACPI: thermal monitor MSRs and interrupt
	lapic.Reset(hasCMCI, hasPerfCounter, hasThermal)

	timer := ktime.NewLocalTimer()
	scheduler, err := sched.New(timer)
	if err != nil {
		kernel.Panic(err)
	}
	scheduler.RegisterPageFaultHandler()
	scheduler.Enable()

	state.scheduler = scheduler

	// A spinning Spinlock.Acquire has no ISF/Registers of its own to hand
	// YieldTask (it may be deep inside arbitrary kernel code, not a
	// syscall or timer entry), so it cannot perform a real context switch
	// directly. Shortening this thread's Local Timer wait instead pulls
	// the next preemption in immediately, letting the real timer IRQ path
	// perform the switch with a genuine saved context.
	ksync.SetYieldFn(func() { timer.SetWait(0) })

	return state
}

// dispatchIRQ is the single router installed via irq.HandleIRQ: the timer
// preempts whichever task is current on this thread, the syscall vector
// decodes through kernel/syscall, and every other IRQ (LIC housekeeping,
// spurious) is acknowledged and otherwise ignored.
func dispatchIRQ(v irq.Vector, isf *irq.ISF, regs *irq.Registers) {
	state := currentLocalState()

	switch v {
	case irq.VectorTimer:
		state.scheduler.InterruptTask(isf, regs)
	case irq.VectorSyscall:
		syscall.Dispatch(state.scheduler, isf, regs)
	}

	lapic.EndOfInterrupt()
}

// currentLocalState reads this hardware thread's Local State pointer back
// out of the kernel GS-base MSR CPU Setup wrote it into.
func currentLocalState() *localState {
	return (*localState)(unsafe.Pointer(uintptr(cpu.ReadMSR(cpu.MsrKernelGS))))
}
