package boot

import (
	"bytes"
	"debug/elf"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

// ThreadDescriptor is one hardware thread reported by the bootloader's MP
// descriptor: its processor/LAPIC ids, and the writable goto field the
// bootstrap thread pokes to start it running at a trampoline.
type ThreadDescriptor struct {
	ProcessorID uint32
	LAPICID     uint32
	gotoAddress *uint64
	extraArg    *uint64
	infoAddr    uintptr
}

// Start writes entry into this thread's goto field, handing control to it.
// The bootloader's own trampoline is spinning on this field; per the
// protocol it invokes entry with a single argument, a pointer to this
// thread's own descriptor struct, which Start stashes in extraArg first so
// entry (secondaryEntry, in mp.go) can recover it.
func (t ThreadDescriptor) Start(entry uintptr) {
	*t.extraArg = uint64(t.infoAddr)
	storeRelease(t.gotoAddress, uint64(entry))
}

// KernelSegment is one PT_LOAD segment of the kernel's own ELF image, ready
// to be remapped with its declared permissions.
type KernelSegment struct {
	VirtAddr uintptr
	MemSize  uintptr
	Perm     addrspace.Permission
}

// BootInfo is everything the bootloader hands the kernel, normalized out of
// the Limine wire structs in limine.go into the shapes the rest of the core
// consumes directly.
type BootInfo struct {
	CommandLine string

	HHDMBase uintptr

	MemoryMap []pmm.MemoryMapEntry

	KernelPhysBase uintptr
	KernelVirtBase uintptr
	KernelBytes    []byte
	KernelSegments []KernelSegment

	RSDP uintptr

	Threads       []ThreadDescriptor
	BootstrapLAPICID uint32

	StackSize uintptr
}

var (
	errMissingResponse = &kernel.Error{Module: "boot", Message: "a required Limine request went unanswered"}
)

// gather assembles a BootInfo from the package-level Limine request structs
// this file's sibling, requests.go, populates at link time; it is split out
// from that global state so tests can call it directly against
// hand-constructed requests.
func gather(hhdm *hhdmRequest, memmap *memmapRequest, kaddr *kernelAddressRequest, kfile *kernelFileRequest, rsdp *rsdpRequest, mp *mpRequest, stack *stackSizeRequest, cmdline *executableCmdlineRequest) (*BootInfo, *kernel.Error) {
	if hhdm.response == nil || memmap.response == nil || kaddr.response == nil ||
		kfile.response == nil || rsdp.response == nil || mp.response == nil {
		return nil, errMissingResponse
	}

	info := &BootInfo{
		HHDMBase:       uintptr(hhdm.response.offset),
		KernelPhysBase: uintptr(kaddr.response.physicalBase),
		KernelVirtBase: uintptr(kaddr.response.virtualBase),
		RSDP:           rsdp.response.address,
	}

	if cmdline != nil && cmdline.response != nil {
		info.CommandLine = cString(cmdline.response.cmdline)
	}
	if stack != nil && stack.response != nil {
		info.StackSize = uintptr(stack.stackSize)
	}

	info.MemoryMap = make([]pmm.MemoryMapEntry, memmap.response.entryCount)
	for i := uint64(0); i < memmap.response.entryCount; i++ {
		e := entryAt(memmap.response.entries, i)
		info.MemoryMap[i] = pmm.MemoryMapEntry{
			Base:   uintptr(e.base),
			Length: uintptr(e.length),
			Type:   e.typ.toPMM(),
		}
	}

	if kfile.response.file != nil {
		f := kfile.response.file
		info.KernelBytes = unsafe.Slice((*byte)(unsafe.Pointer(f.address)), int(f.size))
		if segs, err := parseKernelSegments(info.KernelBytes); err == nil {
			info.KernelSegments = segs
		}
	}

	info.BootstrapLAPICID = mp.response.bspLAPICID
	info.Threads = make([]ThreadDescriptor, mp.response.cpuCount)
	for i := uint64(0); i < mp.response.cpuCount; i++ {
		c := entryAt(mp.response.cpus, i)
		info.Threads[i] = ThreadDescriptor{
			ProcessorID: c.processorID,
			LAPICID:     c.lapicID,
			gotoAddress: &c.gotoAddress,
			extraArg:    &c.extraArgument,
			infoAddr:    uintptr(unsafe.Pointer(c)),
		}
	}

	return info, nil
}

// parseKernelSegments walks the kernel's own ELF image for PT_LOAD program
// headers, translating each one's flags into the addrspace.Permission
// vocabulary the remap step (Init, below) maps them with.
func parseKernelSegments(raw []byte) ([]KernelSegment, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var segs []KernelSegment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, KernelSegment{
			VirtAddr: uintptr(prog.Vaddr),
			MemSize:  uintptr(prog.Memsz),
			Perm:     elfFlagsToPermission(prog.Flags),
		})
	}
	return segs, nil
}

// elfFlagsToPermission collapses an ELF program header's R/W/X bits into
// this core's three-way permission vocabulary: executable segments are
// ReadExecute regardless of W (the kernel never emits writable-executable
// segments), writable data is ReadWrite, everything else is ReadOnly.
func elfFlagsToPermission(flags elf.ProgFlag) addrspace.Permission {
	switch {
	case flags&elf.PF_X != 0:
		return addrspace.ReadExecute
	case flags&elf.PF_W != 0:
		return addrspace.ReadWrite
	default:
		return addrspace.ReadOnly
	}
}
