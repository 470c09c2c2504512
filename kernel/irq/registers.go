package irq

import "github.com/zdivelbiss/vellum/kernel/kfmt"

// Registers is a snapshot of the general-purpose registers captured by an
// entry stub, in the exact order isrCommon pushes them (see
// entry_amd64.s): RAX is pushed last and therefore sits at the lowest
// address, so it is read back first when popping.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RBP uint64
	RSI uint64
	RDI uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64
}

// ISF is the interrupt stack frame the CPU pushes automatically before
// transferring control to a gate.
type ISF struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo writes a formatted register dump through kfmt, used by the panic
// path to attach full CPU state to a fatal-exception report.
func (r *Registers) DumpTo() {
	kfmt.Printf("RAX=%16x RBX=%16x RCX=%16x RDX=%16x\n", r.RAX, r.RBX, r.RCX, r.RDX)
	kfmt.Printf("RBP=%16x RSI=%16x RDI=%16x\n", r.RBP, r.RSI, r.RDI)
	kfmt.Printf("R8 =%16x R9 =%16x R10=%16x R11=%16x\n", r.R8, r.R9, r.R10, r.R11)
	kfmt.Printf("R12=%16x R13=%16x R14=%16x R15=%16x\n", r.R12, r.R13, r.R14, r.R15)
}

// DumpTo writes the saved instruction pointer and stack-switch state.
func (f *ISF) DumpTo() {
	kfmt.Printf("RIP=%16x CS =%16x RFL=%16x\n", f.RIP, f.CS, f.RFlags)
	kfmt.Printf("RSP=%16x SS =%16x\n", f.RSP, f.SS)
}
