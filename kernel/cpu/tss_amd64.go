package cpu

import (
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/kalloc"
)

// istStackSize is the size of each dedicated interrupt-stack-table stack.
const istStackSize = 16 * mem.Size(mem.PageSize)

// istClass names the four IST-routed exception classes CPU Setup step 4
// dedicates a stack to. They map to IST slots 1-4 (slot 0 means "no IST").
type istClass int

const (
	istDebug istClass = iota + 1
	istNMI
	istDoubleFault
	istMachineCheck
)

// tss is the 64-bit Task State Segment layout (TSS descriptor format,
// Intel SDM Vol. 3A §7.7). Only the privilege-stack table, the
// interrupt-stack table, and the I/O map base are meaningful in long mode.
type tss struct {
	_              uint32
	privilegeStack [3]uint64
	_              uint64
	interruptStack [7]uint64
	_              uint64
	_              uint16
	iomapBase      uint16
}

var active tss

func allocStack() uint64 {
	buf, err := kalloc.Allocate(istStackSize, uintptr(mem.PageSize))
	if err != nil {
		kernel.Panic(err)
	}
	top := uintptr(unsafe.Pointer(&buf[0])) + uintptr(len(buf))
	return uint64(top)
}

// BuildTSS allocates the ring-0 privilege stack and the four dedicated IST
// stacks, builds the Task State Segment, installs its descriptor into the
// GDT, and loads the task register. Step 4 of CPU Setup.
func BuildTSS() {
	active = tss{}
	active.privilegeStack[0] = allocStack()
	active.interruptStack[istDebug-1] = allocStack()
	active.interruptStack[istNMI-1] = allocStack()
	active.interruptStack[istDoubleFault-1] = allocStack()
	active.interruptStack[istMachineCheck-1] = allocStack()
	active.iomapBase = uint16(unsafe.Sizeof(active))

	addr := uintptr(unsafe.Pointer(&active))
	installTSSDescriptor(addr, uint32(unsafe.Sizeof(active))-1)
	loadTSS(SelectorTSS)
}

// ISTSlot returns the interrupt-stack-table index (1-7, 0 for "none")
// dedicated to the given exception class, for use when building an IDT
// gate descriptor.
func ISTSlot(class istClass) uint8 {
	return uint8(class)
}

const (
	ISTDebug        = istDebug
	ISTNMI          = istNMI
	ISTDoubleFault  = istDoubleFault
	ISTMachineCheck = istMachineCheck
)
