package irq

import (
	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/diag"
)

// ExceptionHandler receives a tagged exception value. If it returns, the
// saved ISF/Registers are restored and execution resumes (used only by
// the page-fault demand mapper).
type ExceptionHandler func(ArchException)

// IRQHandler receives a hardware/software interrupt vector along with
// pointers into the still-live stack frame.
type IRQHandler func(Vector, *ISF, *Registers)

var (
	exceptionHandler ExceptionHandler = defaultExceptionHandler
	irqHandler       IRQHandler       = defaultIRQHandler

	// EndOfInterruptFn is the acknowledgement the default IRQ handler
	// issues; it stays a no-op unless assigned (kernel/boot installs its
	// own IRQ router, which calls lapic.EndOfInterrupt itself). It
	// lives here, rather than irq importing lapic directly, so that
	// lapic (which needs irq's Vector constants for LVT programming)
	// doesn't create an import cycle — the same settable-function-var
	// idiom kernel.Panic uses for cpu.Halt.
	EndOfInterruptFn = func() {}
)

// HandleException installs the single router invoked for every CPU
// exception. There is one slot, not one per vector: the spec routes all
// exceptions through a single typed function.
func HandleException(h ExceptionHandler) {
	exceptionHandler = h
}

// HandleIRQ installs the single router invoked for every non-exception
// vector (timer, syscall, LIC housekeeping).
func HandleIRQ(h IRQHandler) {
	irqHandler = h
}

// dispatchVector is called by isrCommon (entry_amd64.s) for every taken
// vector. It is intentionally tiny: all policy lives in the installed
// exception/IRQ handler.
func dispatchVector(vector uint8, errCode uint64, isf *ISF, regs *Registers) {
	v := Vector(vector)
	if v <= VectorVirtualization {
		if isf != nil {
			diag.RecordFaultSite(uintptr(isf.RIP))
		}
		exceptionHandler(buildArchException(v, errCode, isf, regs))
		// The handler returned, so the fault was resolved.
		diag.ClearFaultSite()
		return
	}
	irqHandler(v, isf, regs)
}

func defaultExceptionHandler(exc ArchException) {
	kernel.Panic(&kernel.Error{Module: "irq", Message: "unhandled exception: " + exc.Kind.String()})
}

func defaultIRQHandler(v Vector, isf *ISF, regs *Registers) {
	EndOfInterruptFn()
}
