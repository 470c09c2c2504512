package cpu

// Setup performs the five-step per-hardware-thread bring-up sequence
// described by CPU Setup: control registers, GDT, IDT (via installIDT,
// injected so this package doesn't need to import kernel/irq directly),
// TSS, and the GS-base pointer to this thread's Local State.
//
// installIDT is a parameter rather than a direct call into kernel/irq
// because irq already imports cpu (for ReadCR2), so cpu importing irq
// would form an import cycle; the caller passes irq.InstallIDT and this
// package hands it the kernel code selector it owns.
func Setup(installIDT func(codeSelector uint16), localState uintptr) {
	configureControlRegisters()
	InstallGDT()
	installIDT(SelectorKernelCode)
	BuildTSS()
	WriteMSR(MsrKernelGS, uint64(localState))
}
