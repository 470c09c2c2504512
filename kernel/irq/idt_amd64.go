package irq

import "unsafe"

// idtGate is a 16-byte IDT entry in long mode (interrupt/trap gate).
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

const (
	gateTypeInterrupt = 0xE
	gatePresent       = 1 << 7
)

var idt [256]idtGate

func buildGate(handlerAddr uintptr, selector uint16, ist uint8) idtGate {
	return idtGate{
		offsetLow:  uint16(handlerAddr),
		selector:   selector,
		ist:        ist,
		typeAttr:   gatePresent | gateTypeInterrupt,
		offsetMid:  uint16(handlerAddr >> 16),
		offsetHigh: uint32(handlerAddr >> 32),
	}
}

// istForVector returns the dedicated IST slot for the four exceptions that
// must run on a known-good stack regardless of what faulted, 0 otherwise.
func istForVector(v Vector) uint8 {
	switch v {
	case VectorDebug:
		return 1
	case VectorNonMaskable:
		return 2
	case VectorDoubleFault:
		return 3
	case VectorMachineCheck:
		return 4
	default:
		return 0
	}
}

// isrStubTable is implemented in stubs_amd64.s; it returns the table of
// per-vector entry-stub addresses built at assembly time (zero for absent
// vectors).
func isrStubTable() *[256]uintptr

// loadIDT installs the descriptor-table pointer via LIDT.
func loadIDT(descPtr uintptr)

// InstallIDT builds the 256-entry IDT from the generated stub table and
// loads it, step 3 of CPU Setup. The syscall vector is installed with
// DPL=3 so userspace can invoke it via INT.
func InstallIDT(codeSelector uint16) {
	stubs := isrStubTable()
	for v := 0; v < 256; v++ {
		addr := stubs[v]
		if addr == 0 {
			idt[v] = idtGate{}
			continue
		}
		gate := buildGate(addr, codeSelector, istForVector(Vector(v)))
		if Vector(v) == VectorSyscall {
			gate.typeAttr |= 3 << 5 // DPL=3
		}
		idt[v] = gate
	}

	desc := struct {
		limit uint16
		base  uintptr
	}{
		limit: uint16(unsafe.Sizeof(idt)) - 1,
		base:  uintptr(unsafe.Pointer(&idt[0])),
	}
	loadIDT(uintptr(unsafe.Pointer(&desc)))
}
