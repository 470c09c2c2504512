package cpu

// Model-specific register numbers referenced during CPU Setup and by the
// Local Interrupt Controller.
const (
	MsrEFER        = 0xc0000080
	MsrGSBase      = 0xc0000101
	MsrKernelGS    = 0xc0000102
	MsrApicBase    = 0x0000001b
	MsrTSCDeadline = 0x000006e2
)

// EFER feature bits.
const (
	EferNXE uint64 = 1 << 11
)

// ReadMSR reads the 64-bit value of the model-specific register numbered id.
func ReadMSR(id uint32) uint64

// WriteMSR writes value to the model-specific register numbered id.
func WriteMSR(id uint32, value uint64)

// ReadTSC returns the current value of the time-stamp counter.
func ReadTSC() uint64
