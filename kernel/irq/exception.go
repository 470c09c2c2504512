package irq

import "github.com/zdivelbiss/vellum/kernel/cpu"

// readCR2Fn is mocked by tests, which have no real CR2 to read.
var readCR2Fn = cpu.ReadCR2

// ExceptionKind names the architectural condition an ArchException reports.
type ExceptionKind int

const (
	DivideError ExceptionKind = iota
	Debug
	NonMaskable
	Breakpoint
	Overflow
	BoundRangeExceeded
	InvalidOpcode
	DeviceNotAvailable
	DoubleFault
	InvalidTSS
	SegmentNotPresent
	StackSegmentFault
	GeneralProtectionFault
	PageFault
	X87FloatingPoint
	AlignmentCheck
	MachineCheck
	SimdFloatingPoint
	Virtualization
)

func (k ExceptionKind) String() string {
	switch k {
	case DivideError:
		return "divide error"
	case Debug:
		return "debug"
	case NonMaskable:
		return "non-maskable interrupt"
	case Breakpoint:
		return "breakpoint"
	case Overflow:
		return "overflow"
	case BoundRangeExceeded:
		return "bound range exceeded"
	case InvalidOpcode:
		return "invalid opcode"
	case DeviceNotAvailable:
		return "device not available"
	case DoubleFault:
		return "double fault"
	case InvalidTSS:
		return "invalid TSS"
	case SegmentNotPresent:
		return "segment not present"
	case StackSegmentFault:
		return "stack-segment fault"
	case GeneralProtectionFault:
		return "general protection fault"
	case PageFault:
		return "page fault"
	case X87FloatingPoint:
		return "x87 floating point"
	case AlignmentCheck:
		return "alignment check"
	case MachineCheck:
		return "machine check"
	case SimdFloatingPoint:
		return "SIMD floating point"
	case Virtualization:
		return "virtualization exception"
	default:
		return "unknown exception"
	}
}

// PageFaultFlag decodes the bits of a #PF error code.
type PageFaultFlag uint64

const (
	PFPresent           PageFaultFlag = 1 << 0
	PFWrite             PageFaultFlag = 1 << 1
	PFUser              PageFaultFlag = 1 << 2
	PFReservedWrite     PageFaultFlag = 1 << 3
	PFInstructionFetch  PageFaultFlag = 1 << 4
	PFProtectionKey     PageFaultFlag = 1 << 5
	PFShadowStack       PageFaultFlag = 1 << 6
)

// SelectorErrorCode decodes the error code pushed by segment-selector
// exceptions (#TS, #NP, #SS, #GP).
type SelectorErrorCode struct {
	External bool
	Table    SelectorTable
	Index    uint16
}

// SelectorTable names which descriptor table a selector error references.
type SelectorTable int

const (
	TableGDT SelectorTable = iota
	TableIDT
	TableLDT
)

func DecodeSelectorError(code uint64) SelectorErrorCode {
	table := TableGDT
	switch (code >> 1) & 0x3 {
	case 1, 3:
		table = TableIDT
	case 2:
		table = TableLDT
	}
	return SelectorErrorCode{
		External: code&1 != 0,
		Table:    table,
		Index:    uint16(code >> 3),
	}
}

// ArchException is the tagged value the exception router hands to
// HandleException, carrying everything a handler or the panic path needs
// to describe the fault.
type ArchException struct {
	Kind           ExceptionKind
	Selector       uint64
	PageFaultFlags PageFaultFlag
	CR2            uint64
	AlignmentCode  uint64
	ISF            *ISF
	Regs           *Registers
}

var vectorToKind = map[Vector]ExceptionKind{
	VectorDivideError:        DivideError,
	VectorDebug:              Debug,
	VectorNonMaskable:        NonMaskable,
	VectorBreakpoint:         Breakpoint,
	VectorOverflow:           Overflow,
	VectorBoundRangeExceeded: BoundRangeExceeded,
	VectorInvalidOpcode:      InvalidOpcode,
	VectorDeviceNotAvailable: DeviceNotAvailable,
	VectorDoubleFault:        DoubleFault,
	VectorInvalidTSS:         InvalidTSS,
	VectorSegmentNotPresent:  SegmentNotPresent,
	VectorStackSegmentFault:  StackSegmentFault,
	VectorGeneralProtection:  GeneralProtectionFault,
	VectorPageFault:          PageFault,
	VectorX87FloatingPoint:   X87FloatingPoint,
	VectorAlignmentCheck:     AlignmentCheck,
	VectorMachineCheck:       MachineCheck,
	VectorSimdFloatingPoint:  SimdFloatingPoint,
	VectorVirtualization:     Virtualization,
}

// buildArchException assembles the tagged exception value for a CPU
// exception vector, reading CR2 for page faults.
func buildArchException(v Vector, errCode uint64, isf *ISF, regs *Registers) ArchException {
	exc := ArchException{
		Kind:     vectorToKind[v],
		Selector: errCode,
		ISF:      isf,
		Regs:     regs,
	}
	if v == VectorPageFault {
		exc.PageFaultFlags = PageFaultFlag(errCode)
		exc.CR2 = readCR2Fn()
	}
	if v == VectorAlignmentCheck {
		exc.AlignmentCode = errCode
	}
	return exc
}
