// Package syscall implements the kernel-primitive gate: the handful of
// operations a task reaches by trapping to VectorSyscall, decoded from a
// fixed register ABI rather than a POSIX-shaped call table.
package syscall

import (
	"unicode/utf8"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/kfmt"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
	"github.com/zdivelbiss/vellum/kernel/sched"
)

// Vector names one of the operations this gate exposes, read out of RAX.
type Vector uint64

const (
	VectorKlogInfo Vector = iota
	VectorKlogError
	VectorKlogDebug
	VectorKlogTrace
	VectorTaskYield
	VectorTaskExit
)

// Error is returned in RSI when a call fails (RDI is 0 in that case).
type Error uint64

const (
	ErrInvalidVector Error = iota + 1
	ErrNoActiveTask
	ErrUnmappedMemory
	ErrBadUTF8
)

// Result is the two-register ABI return value: Ok in RDI, Code in RSI
// when !Ok.
type Result struct {
	Ok   bool
	Code Error
}

func ok() Result            { return Result{Ok: true} }
func fail(e Error) Result   { return Result{Code: e} }
func (r Result) writeTo(regs *irq.Registers) {
	if r.Ok {
		regs.RDI, regs.RSI = 1, 0
		return
	}
	regs.RDI, regs.RSI = 0, uint64(r.Code)
}

// Dispatch decodes a trapped syscall from regs (vector in RAX, arguments
// in RDI/RSI/RDX/RCX/R8/R9) against the task currently running on s,
// performs it, and writes the result pair back into RDI/RSI.
//
// The result is written before TaskYield/TaskExit hand control to the
// scheduler: YieldTask snapshots regs into the yielding task's saved
// context on its way out, so the result must already be in place for
// that snapshot to carry it forward to the task's next run.
func Dispatch(s *sched.Scheduler, isf *irq.ISF, regs *irq.Registers) {
	vector := Vector(regs.RAX)
	args := [6]uint64{regs.RDI, regs.RSI, regs.RDX, regs.RCX, regs.R8, regs.R9}

	var res Result
	switch vector {
	case VectorKlogInfo:
		res = klog(kfmt.SeverityInfo, args[0], args[1], s)
	case VectorKlogError:
		res = klog(kfmt.SeverityError, args[0], args[1], s)
	case VectorKlogDebug:
		res = klog(kfmt.SeverityDebug, args[0], args[1], s)
	case VectorKlogTrace:
		res = klog(kfmt.SeverityTrace, args[0], args[1], s)
	case VectorTaskYield, VectorTaskExit:
		res = ok()
	default:
		res = fail(ErrInvalidVector)
	}
	res.writeTo(regs)

	switch vector {
	case VectorTaskYield:
		s.YieldTask(isf, regs)
	case VectorTaskExit:
		s.KillTask(isf, regs)
	}
}

// klog demand-maps every page covering the caller's [ptr, ptr+length)
// buffer in the current task's address space, validates it as UTF-8, and
// emits it through kfmt at sev.
func klog(sev kfmt.Severity, ptrArg, lenArg uint64, s *sched.Scheduler) Result {
	task := s.Current()
	if task == nil {
		return fail(ErrNoActiveTask)
	}

	ptr := uintptr(ptrArg)
	length := int(lenArg)
	if length == 0 {
		kfmt.Log("KLOG", sev, "")
		return ok()
	}

	startPage := mem.AddrOf[mem.Page](ptr &^ (uintptr(mem.PageSize) - 1))
	lastByte := ptr + uintptr(length) - 1
	pageCount := int(lastByte>>mem.PageShift) - int(startPage.Value()>>mem.PageShift) + 1

	if err := task.AddressSpace.EnsureMapped(startPage, pageCount, addrspace.ReadWrite); err != nil {
		return fail(ErrUnmappedMemory)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), length)
	if !utf8.Valid(data) {
		return fail(ErrBadUTF8)
	}

	kfmt.Log("KLOG", sev, string(data))
	return ok()
}
