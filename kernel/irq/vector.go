package irq

// Vector identifies an IDT slot. Vectors 0-31 are CPU exceptions; 32-255
// are remapped hardware/software interrupts.
type Vector uint8

// CPU exception vectors, per the Intel SDM Vol. 3A Chapter 6.
const (
	VectorDivideError        Vector = 0
	VectorDebug              Vector = 1
	VectorNonMaskable        Vector = 2
	VectorBreakpoint         Vector = 3
	VectorOverflow           Vector = 4
	VectorBoundRangeExceeded Vector = 5
	VectorInvalidOpcode      Vector = 6
	VectorDeviceNotAvailable Vector = 7
	VectorDoubleFault        Vector = 8
	VectorInvalidTSS         Vector = 10
	VectorSegmentNotPresent  Vector = 11
	VectorStackSegmentFault  Vector = 12
	VectorGeneralProtection  Vector = 13
	VectorPageFault          Vector = 14
	VectorX87FloatingPoint   Vector = 16
	VectorAlignmentCheck     Vector = 17
	VectorMachineCheck       Vector = 18
	VectorSimdFloatingPoint  Vector = 19
	VectorVirtualization     Vector = 20
)

// Vectors reserved for the Local Interrupt Controller and the syscall gate,
// all of which must be > 15 to avoid the CPU-exception range.
const (
	VectorTimer              Vector = 32
	VectorLINT0              Vector = 33
	VectorLINT1              Vector = 34
	VectorError              Vector = 35
	VectorCMCI               Vector = 36
	VectorPerformanceCounter Vector = 37
	VectorThermalSensor      Vector = 38
	VectorWatchdog           Vector = 39
	VectorExternal           Vector = 40
	VectorSyscall            Vector = 128
	VectorSpurious           Vector = 255
)

// absentVectors are the reserved/coprocessor slots the IDT leaves without a
// present entry: 9 (legacy coprocessor segment overrun), 15 (reserved),
// 22-27 (reserved), 31 (reserved).
var absentVectors = map[Vector]bool{
	9: true, 15: true, 22: true, 23: true, 24: true,
	25: true, 26: true, 27: true, 31: true,
}

// errorCodeVectors push a hardware error code onto the stack before
// transferring control; the entry stub must account for it separately
// rather than push a placeholder.
var errorCodeVectors = map[Vector]bool{
	8: true, 10: true, 11: true, 12: true, 13: true,
	14: true, 17: true, 21: true, 29: true, 30: true,
}

// HasErrorCode reports whether v pushes a hardware error code.
func (v Vector) HasErrorCode() bool { return errorCodeVectors[v] }

// IsPresent reports whether v has an installed IDT entry.
func (v Vector) IsPresent() bool { return !absentVectors[v] }
