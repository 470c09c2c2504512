package sched

import (
	"container/list"
	"reflect"
	stdtime "time"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/kalloc"
	"github.com/zdivelbiss/vellum/kernel/sync"
	ktime "github.com/zdivelbiss/vellum/kernel/time"
)

// preemptionWait is the slice a freshly switched-in task (or the idle
// loop) is given before the next timer IRQ preempts it. This is a
// scheduling-policy detail fixed by this core, not a boot-time choice, so
// it stays a constant here rather than living in kernel/config.
const preemptionWait = 15 * stdtime.Millisecond

const idleStackSize = 4096

// runQueue is the process-global FIFO of runnable tasks, shared by every
// hardware thread's Scheduler. list.Element.Value holds a *Task.
var (
	runQueue     = list.New()
	runQueueLock sync.Spinlock
)

var errNoActiveTask = &kernel.Error{Module: "sched", Message: "no active task in scheduler"}

// Scheduler is the per-hardware-thread scheduling context: which task (if
// any) is currently running on this thread, its idle fallback stack, and
// the Local Timer used to arm the next preemption.
type Scheduler struct {
	enabled   bool
	idleStack []byte
	current   *Task
	timer     *ktime.LocalTimer
}

// New allocates a Scheduler bound to timer, the Local Timer for the
// calling hardware thread. Called once per thread during CPU bring-up.
func New(timer *ktime.LocalTimer) (*Scheduler, *kernel.Error) {
	stack, err := kalloc.AllocateZeroed(mem.Size(idleStackSize), 0)
	if err != nil {
		return nil, err
	}
	return &Scheduler{idleStack: stack, timer: timer}, nil
}

// Enable lets this Scheduler pop tasks from the run queue.
func (s *Scheduler) Enable() { s.enabled = true }

// Disable stops this Scheduler from popping new tasks; a pop already
// in-flight when Disable is called is not cancelled.
func (s *Scheduler) Disable() { s.enabled = false }

// IsEnabled reports whether this Scheduler currently pops tasks.
func (s *Scheduler) IsEnabled() bool { return s.enabled }

// Current returns the task currently running on this hardware thread, or
// nil if it is idling.
func (s *Scheduler) Current() *Task { return s.current }

// Spawn adds task to the back of the process-global run queue, from which
// it will eventually be switched in by some hardware thread's InterruptTask
// or nextTaskLocked. Called during bring-up and whenever a new task is
// created.
func Spawn(task *Task) {
	runQueueLock.Acquire()
	defer runQueueLock.Release()
	runQueue.PushBack(task)
}

// InterruptTask is called from the timer ISR. It requeues the currently
// running task (if any), switches in the next one, and arms the next
// preemption wait.
func (s *Scheduler) InterruptTask(isf *irq.ISF, regs *irq.Registers) {
	runQueueLock.Acquire()
	defer runQueueLock.Release()

	if s.current != nil {
		s.current.SavedISF = *isf
		s.current.SavedRegs = *regs
		runQueue.PushBack(s.current)
		s.current = nil
	}

	s.nextTaskLocked(isf, regs)
}

// YieldTask behaves like InterruptTask, except it requires a task to
// already be running on this thread.
func (s *Scheduler) YieldTask(isf *irq.ISF, regs *irq.Registers) {
	if s.current == nil {
		kernel.Panic(errNoActiveTask)
		return
	}

	runQueueLock.Acquire()
	defer runQueueLock.Release()

	s.current.SavedISF = *isf
	s.current.SavedRegs = *regs
	runQueue.PushBack(s.current)
	s.current = nil

	s.nextTaskLocked(isf, regs)
}

// KillTask drops the currently running task instead of requeuing it, then
// switches in the next one.
func (s *Scheduler) KillTask(isf *irq.ISF, regs *irq.Registers) {
	if s.current == nil {
		kernel.Panic(errNoActiveTask)
	}

	// TODO: hand the dropped task to a reap queue that frees its address
	// space once one exists; for now it is simply abandoned.
	s.current = nil

	runQueueLock.Acquire()
	defer runQueueLock.Release()

	s.nextTaskLocked(isf, regs)
}

// nextTaskLocked pops the front of the run queue into isf/regs, swapping
// in its address space if needed, or installs the idle context if the
// queue is empty. Callers must hold runQueueLock.
func (s *Scheduler) nextTaskLocked(isf *irq.ISF, regs *irq.Registers) {
	if front := runQueue.Front(); front != nil {
		next := runQueue.Remove(front).(*Task)

		*isf = next.SavedISF
		*regs = next.SavedRegs

		if !next.AddressSpace.IsCurrent() {
			next.AddressSpace.SwapInto()
		}

		s.current = next
	} else {
		isf.RIP = idleEntryPoint
		isf.RSP = uint64(s.idleStackTop())
		*regs = irq.Registers{}

		s.current = nil
	}

	if s.timer != nil {
		s.timer.SetWait(preemptionWait)
	}
}

func (s *Scheduler) idleStackTop() uintptr {
	top := uintptr(unsafe.Pointer(&s.idleStack[len(s.idleStack)-1])) + 1
	return top &^ 0xF
}

// idleEntryPoint is waitIndefinite's code address, computed once via
// reflect since Go gives no other portable way to turn a top-level
// function into the raw instruction pointer an IRETQ needs.
var idleEntryPoint = uint64(reflect.ValueOf(waitIndefinite).Pointer())

// waitIndefinite is the body every hardware thread's idle context runs:
// re-enable interrupts (the ISR path enters with them off) and halt until
// the next one, forever.
func waitIndefinite() {
	for {
		cpu.EnableInterrupts()
		cpu.Halt()
	}
}

// Idle runs waitIndefinite directly rather than through an IRETQ into
// idleEntryPoint. Bring-up calls this once on a freshly initialized
// hardware thread that has no saved interrupt frame of its own yet; from
// here on, every other switch into idle happens through nextTaskLocked the
// normal way.
func Idle() {
	waitIndefinite()
}
