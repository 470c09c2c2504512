// Package diag provides best-effort diagnostics for panic/exception reports.
// It never itself faults: every lookup degrades to "nothing to report"
// rather than propagating an error, since it is invoked from the tail end of
// the panic path where there is no further recovery available.
package diag

import (
	"sync/atomic"

	"golang.org/x/arch/x86/x86asm"
)

// faultSite, when non-zero, is the faulting instruction pointer recorded by
// kernel/irq before it runs the installed exception router, which may call
// kernel.Panic. It is reset after each decode attempt.
var faultSite uintptr

// faultReader supplies up to 15 bytes (the x86-64 maximum instruction
// length) starting at a given virtual address. kernel/boot installs this
// during init orchestration, once the kernel address space is active; the
// reader it installs refuses addresses that are not mapped.
var faultReader func(addr uintptr, n int) ([]byte, bool)

// SetFaultReader installs the byte-reader used to fetch instruction bytes at
// a faulting rip. Called once during init orchestration.
func SetFaultReader(fn func(addr uintptr, n int) ([]byte, bool)) {
	faultReader = fn
}

// RecordFaultSite records the instruction pointer of the exception currently
// being routed. Called by kernel/irq before it hands the exception to the
// installed router, which may call kernel.Panic.
func RecordFaultSite(rip uintptr) {
	atomic.StoreUintptr((*uintptr)(&faultSite), rip)
}

// ClearFaultSite discards any recorded fault site, e.g. after a successful
// demand-map resolves a page fault without reaching kernel.Panic.
func ClearFaultSite() {
	atomic.StoreUintptr((*uintptr)(&faultSite), 0)
}

// DecodeFaultSite returns a human-readable disassembly of the instruction at
// the most recently recorded fault site, if one was recorded and its bytes
// could be read and decoded.
func DecodeFaultSite() (string, bool) {
	rip := atomic.SwapUintptr((*uintptr)(&faultSite), 0)
	if rip == 0 || faultReader == nil {
		return "", false
	}
	code, ok := faultReader(rip, 15)
	if !ok || len(code) == 0 {
		return "", false
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", false
	}
	return x86asm.GNUSyntax(inst, uint64(rip), nil), true
}
