package kernel

import (
	"github.com/zdivelbiss/vellum/kernel/diag"
	"github.com/zdivelbiss/vellum/kernel/kfmt"
)

// cpuHaltFn halts the calling hardware thread. It is a function variable
// (rather than a direct call) so tests can mock it out, and so this package
// does not need to import kernel/cpu directly, which would otherwise create
// an import cycle (cpu imports kernel for *Error).
var cpuHaltFn = func() {
	for {
	}
}

// SetHaltFn overrides the halt primitive invoked at the end of Panic. The
// real entrypoint (kernel/boot) wires this to cpu.Halt during init; left
// unset, Panic spins the calling goroutine instead of executing HLT.
func SetHaltFn(fn func()) { cpuHaltFn = fn }

var errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}

// Panic outputs the supplied error (if not nil) to the kfmt sink, appends a
// best-effort instruction decode at the fault site if one is available, and
// halts the calling hardware thread. Calls to Panic never return. Other
// hardware threads are unaffected and continue executing.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	if decoded, ok := diag.DecodeFaultSite(); ok {
		kfmt.Printf("at fault site: %s\n", decoded)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
