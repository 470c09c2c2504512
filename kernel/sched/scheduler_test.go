package sched

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
	"github.com/zdivelbiss/vellum/kernel/mem/hhdm"
	"github.com/zdivelbiss/vellum/kernel/mem/kalloc"
	"github.com/zdivelbiss/vellum/kernel/mem/paging"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

func newTestAddressSpace(t *testing.T) *addrspace.AddressSpace {
	t.Helper()
	t.Cleanup(paging.UseHostBackedTables())

	memMap := []pmm.MemoryMapEntry{
		{Base: 0, Length: 32 * uintptr(mem.Mb), Type: pmm.Usable},
	}
	frames, err := pmm.NewHostBacked(memMap)
	if err != nil {
		t.Fatalf("NewHostBacked: %v", err)
	}
	mapper, kerr := paging.New(frames, 4)
	if kerr != nil {
		t.Fatalf("paging.New: %v", kerr)
	}
	return addrspace.New(mapper)
}

// drainRunQueue empties the package-global run queue between tests, which
// otherwise share it.
func drainRunQueue(t *testing.T) {
	t.Helper()
	for runQueue.Len() > 0 {
		runQueue.Remove(runQueue.Front())
	}
}

// New allocates its idle stack from kalloc, which may be initialized only
// once; the HHDM window points at kallocMemory so its frames are writable.
var (
	kallocOnce   sync.Once
	kallocMemory = make([]byte, 16*int(mem.Mb))
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	kallocOnce.Do(func() {
		hhdm.Init(uintptr(unsafe.Pointer(&kallocMemory[0])))
		frames, err := pmm.NewHostBacked([]pmm.MemoryMapEntry{{Base: 0, Length: 16 * uintptr(mem.Mb), Type: pmm.Usable}})
		if err != nil {
			t.Fatalf("NewHostBacked: %v", err)
		}
		kalloc.Init(frames)
	})
	drainRunQueue(t)
	t.Cleanup(addrspace.UseFakeActivePDT(func() uintptr { return 0 }))

	s, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestInterruptTaskRequeuesAndSwitchesIn(t *testing.T) {
	s := newTestScheduler(t)

	as1, as2 := newTestAddressSpace(t), newTestAddressSpace(t)
	t1 := NewTask(1, as1, 0x1000, 0x2000)
	t2 := NewTask(2, as2, 0x3000, 0x4000)

	runQueue.PushBack(t1)
	runQueue.PushBack(t2)

	var isf irq.ISF
	var regs irq.Registers

	s.InterruptTask(&isf, &regs)
	if s.Current() != t1 {
		t.Fatalf("expected t1 to be switched in first, got %+v", s.Current())
	}
	if isf.RIP != 0x1000 || isf.RSP != 0x2000 {
		t.Fatalf("unexpected ISF after switch-in: %+v", isf)
	}

	// Interrupting again with t1 running requeues it behind t2 and
	// switches t2 in.
	s.InterruptTask(&isf, &regs)
	if s.Current() != t2 {
		t.Fatalf("expected t2 to be switched in, got %+v", s.Current())
	}
	if runQueue.Len() != 1 {
		t.Fatalf("expected t1 requeued, run queue len = %d", runQueue.Len())
	}
}

func TestInterruptTaskFallsBackToIdle(t *testing.T) {
	s := newTestScheduler(t)

	var isf irq.ISF
	var regs irq.Registers
	s.InterruptTask(&isf, &regs)

	if s.Current() != nil {
		t.Fatalf("expected no current task, got %+v", s.Current())
	}
	if isf.RIP != idleEntryPoint {
		t.Fatalf("expected idle entry point %x, got %x", idleEntryPoint, isf.RIP)
	}
	if isf.RSP == 0 {
		t.Fatal("expected a non-zero idle stack pointer")
	}
}

func TestYieldTaskPanicsWithNoActiveTask(t *testing.T) {
	s := newTestScheduler(t)

	halted := false
	kernel.SetHaltFn(func() { halted = true })
	defer kernel.SetHaltFn(func() {})

	var isf irq.ISF
	var regs irq.Registers
	s.YieldTask(&isf, &regs)

	if !halted {
		t.Fatal("expected YieldTask with no active task to panic")
	}
}

func TestKillTaskDropsCurrentAndSwitchesIn(t *testing.T) {
	s := newTestScheduler(t)

	as1, as2 := newTestAddressSpace(t), newTestAddressSpace(t)
	t1 := NewTask(1, as1, 0x1000, 0x2000)
	t2 := NewTask(2, as2, 0x3000, 0x4000)

	var isf irq.ISF
	var regs irq.Registers

	runQueue.PushBack(t1)
	s.InterruptTask(&isf, &regs) // t1 becomes current

	runQueue.PushBack(t2)
	s.KillTask(&isf, &regs)

	if s.Current() != t2 {
		t.Fatalf("expected t2 switched in after kill, got %+v", s.Current())
	}
}
