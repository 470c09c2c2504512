// Package boot wires every other package together into the single-entry
// init sequence described by the core's init orchestration: it is the only
// package that knows the bootloader's request/response wire format, and the
// only package allowed to call every other package's Init-once entry point.
package boot

import (
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

// The fixed base revision and request-ID magic values the Limine boot
// protocol defines; every request/response struct below mirrors the layout
// Limine's bootloader writes into memory before jumping to the kernel
// entry point; see https://github.com/limine-bootloader/limine/blob/trunk/PROTOCOL.md.
var (
	limineCommonMagic = [2]uint64{0xc7b1dd30df4c8b88, 0x0a82e883a194f07b}
)

// limineRequestHeader is the fixed prefix every Limine request struct
// shares: two magic words, a request-specific ID pair, and the protocol
// revision the kernel negotiates.
type limineRequestHeader struct {
	id       [4]uint64
	revision uint64
}

// hhdmResponse mirrors Limine's HHDM response: a single virtual base
// address mirroring all physical memory.
type hhdmResponse struct {
	revision uint64
	offset   uint64
}

// hhdmRequest is the kernel-supplied request for the HHDM response above.
type hhdmRequest struct {
	limineRequestHeader
	response *hhdmResponse
}

// limineMemmapEntryType mirrors Limine's memmap entry type enumeration.
type limineMemmapEntryType uint64

const (
	limineMemmapUsable limineMemmapEntryType = iota
	limineMemmapReserved
	limineMemmapACPIReclaimable
	limineMemmapACPINVS
	limineMemmapBadMemory
	limineMemmapBootloaderReclaimable
	limineMemmapExecutableAndModules
	limineMemmapFramebuffer
)

// limineMemmapEntry is one physical range description.
type limineMemmapEntry struct {
	base   uint64
	length uint64
	typ    limineMemmapEntryType
}

// memmapResponse mirrors Limine's memmap response: a count plus an array
// of pointers to individual entries.
type memmapResponse struct {
	revision   uint64
	entryCount uint64
	entries    **limineMemmapEntry
}

type memmapRequest struct {
	limineRequestHeader
	response *memmapResponse
}

// kernelAddressResponse reports the kernel's physical and virtual load
// base, needed to remap its own ELF segments by permission.
type kernelAddressResponse struct {
	revision      uint64
	physicalBase  uint64
	virtualBase   uint64
}

type kernelAddressRequest struct {
	limineRequestHeader
	response *kernelAddressResponse
}

// kernelFileResponse exposes the raw kernel executable bytes, used for ELF
// segment walking and (if kernel/config.KeepSymbolInfo) symbol resolution.
type kernelFileResponse struct {
	revision uint64
	file     *limineFile
}

type limineFile struct {
	revision uint64
	address  uintptr
	size     uint64
	// remaining Limine file fields (path, cmdline, media type, ...) are
	// not consumed by this core.
}

type kernelFileRequest struct {
	limineRequestHeader
	response *kernelFileResponse
}

// rsdpResponse carries the physical address of the ACPI RSDP.
type rsdpResponse struct {
	revision uint64
	address  uintptr
}

type rsdpRequest struct {
	limineRequestHeader
	response *rsdpResponse
}

// mpResponse mirrors Limine's SMP/MP response: flags plus one cpuInfo per
// hardware thread found.
type mpResponse struct {
	revision    uint64
	flags       uint32
	bspLAPICID  uint32
	cpuCount    uint64
	cpus        **mpCPUInfo
}

// mpCPUInfo is one hardware thread's descriptor. gotoAddress is the
// bootloader-polled field the bootstrap thread writes to start a secondary
// thread; it must be written with atomic/release semantics since the
// secondary is spinning on it concurrently.
type mpCPUInfo struct {
	processorID  uint32
	lapicID      uint32
	reserved     uint64
	gotoAddress  uint64
	extraArgument uint64
}

type mpRequest struct {
	limineRequestHeader
	flags    uint64
	response *mpResponse
}

// stackSizeResponse is empty; the requested size lives on the request and
// is simply acknowledged by the bootloader allocating it.
type stackSizeResponse struct {
	revision uint64
}

type stackSizeRequest struct {
	limineRequestHeader
	response  *stackSizeResponse
	stackSize uint64
}

// executableCmdlineResponse carries the bootloader-supplied kernel command
// line as a NUL-terminated C string.
type executableCmdlineResponse struct {
	revision uint64
	cmdline  *byte
}

type executableCmdlineRequest struct {
	limineRequestHeader
	response *executableCmdlineResponse
}

func cString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for {
		b := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(n)))
		if b == 0 {
			break
		}
		n++
	}
	return unsafe.String(p, n)
}

func (t limineMemmapEntryType) toPMM() pmm.EntryType {
	switch t {
	case limineMemmapUsable:
		return pmm.Usable
	case limineMemmapACPIReclaimable:
		return pmm.ACPIReclaimable
	case limineMemmapACPINVS:
		return pmm.ACPINVS
	case limineMemmapBadMemory:
		return pmm.BadMemory
	case limineMemmapBootloaderReclaimable:
		return pmm.BootloaderReclaimable
	case limineMemmapExecutableAndModules:
		return pmm.ExecutableAndModules
	case limineMemmapFramebuffer:
		return pmm.Framebuffer
	default:
		return pmm.Reserved
	}
}

// entryAt indexes the double-pointer entries array Limine uses throughout
// its protocol (an array of pointers rather than an array of structs, so
// the bootloader can hand back entries it allocated independently).
func entryAt[T any](base **T, index uint64) *T {
	ptrSize := unsafe.Sizeof(uintptr(0))
	slot := uintptr(unsafe.Pointer(base)) + uintptr(index)*ptrSize
	return *(**T)(unsafe.Pointer(slot))
}
