package boot

import (
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	ktime "github.com/zdivelbiss/vellum/kernel/time"
)

// acpiSDTHeader is the fixed header shared by every ACPI system description
// table, fixed-layout and reachable without an AML interpreter.
type acpiSDTHeader struct {
	signature       [4]byte
	length          uint32
	revision        uint8
	checksum        uint8
	oemID           [6]byte
	oemTableID      [8]byte
	oemRevision     uint32
	creatorID       uint32
	creatorRevision uint32
}

// rsdpDescriptor is the ACPI 1.0 Root System Description Pointer; revision
// >= 2 extends it with a 64-bit XSDT address, read separately below since
// the extended fields only exist when length says so.
type rsdpDescriptor struct {
	signature  [8]byte
	checksum   uint8
	oemID      [6]byte
	revision   uint8
	rsdtAddr   uint32
}

type rsdpExtension struct {
	length        uint32
	xsdtAddr      uint64
	extChecksum   uint8
	reserved      [3]byte
}

// genericAddress mirrors the ACPI Generic Address Structure used by the
// FADT's X_PM_TMR_BLK field.
type genericAddress struct {
	addressSpaceID uint8
	bitWidth       uint8
	bitOffset      uint8
	accessSize     uint8
	address        uint64
}

const (
	addressSpaceSystemMemory = 0
	addressSpaceSystemIO     = 1
)

var (
	ErrNoXSDT         = &kernel.Error{Module: "boot", Message: "RSDP does not advertise an XSDT and legacy RSDT parsing is unsupported"}
	ErrNoFADT         = &kernel.Error{Module: "boot", Message: "FADT not found in the XSDT"}
	ErrBadACPITable   = &kernel.Error{Module: "boot", Message: "ACPI table checksum mismatch"}
)

func readHeader(addr uintptr) *acpiSDTHeader {
	return (*acpiSDTHeader)(unsafe.Pointer(addr))
}

func checksumOK(addr uintptr, length uint32) bool {
	var sum byte
	for i := uint32(0); i < length; i++ {
		sum += *(*byte)(unsafe.Pointer(addr + uintptr(i)))
	}
	return sum == 0
}

// findFADT walks the XSDT (an array of 64-bit physical table pointers
// following the shared SDT header) for the entry whose signature is
// "FACP" (the FADT's historical ACPI signature).
func findFADT(xsdtAddr uintptr) (uintptr, *kernel.Error) {
	hdr := readHeader(xsdtAddr)
	if !checksumOK(xsdtAddr, hdr.length) {
		return 0, ErrBadACPITable
	}

	entryCount := (int(hdr.length) - int(unsafe.Sizeof(acpiSDTHeader{}))) / 8
	entriesStart := xsdtAddr + unsafe.Sizeof(acpiSDTHeader{})

	for i := 0; i < entryCount; i++ {
		entryAddr := *(*uint64)(unsafe.Pointer(entriesStart + uintptr(i)*8))
		tableAddr := uintptr(entryAddr)
		tableHdr := readHeader(tableAddr)
		if tableHdr.signature == [4]byte{'F', 'A', 'C', 'P'} {
			return tableAddr, nil
		}
	}
	return 0, ErrNoFADT
}

// pmTimerFromFADT extracts the PM-timer descriptor from a FADT whose
// address has already been validated. The fields below are read at the
// fixed byte offsets the ACPI 6.x FADT layout defines; only the subset
// this core needs (PM_TMR_BLK, X_PM_TMR_BLK, and the TMR_VAL_EXT flag
// bit) is decoded.
func pmTimerFromFADT(fadtAddr uintptr) ktime.PMTimerDescriptor {
	const (
		offPMTmrBlk  = 76 // uint32, legacy port-IO PM timer block
		offFlags     = 112
		offXPMTmrBlk = 208 // GenericAddress, preferred over the legacy field when present
	)

	pmTmrBlk := *(*uint32)(unsafe.Pointer(fadtAddr + offPMTmrBlk))
	flags := *(*uint32)(unsafe.Pointer(fadtAddr + offFlags))
	const tmrValExt = 1 << 8
	supports32Bit := flags&tmrValExt != 0

	hdr := readHeader(fadtAddr)
	if hdr.length > offXPMTmrBlk+uint32(unsafe.Sizeof(genericAddress{})) {
		xAddr := (*genericAddress)(unsafe.Pointer(fadtAddr + offXPMTmrBlk))
		if xAddr.address != 0 {
			return ktime.PMTimerDescriptor{
				IsMMIO:        xAddr.addressSpaceID == addressSpaceSystemMemory,
				Address:       uintptr(xAddr.address),
				Supports32Bit: supports32Bit,
			}
		}
	}

	return ktime.PMTimerDescriptor{
		IsMMIO:        false,
		Address:       uintptr(pmTmrBlk),
		Supports32Bit: supports32Bit,
	}
}

// discoverPMTimer walks from the bootloader-supplied RSDP physical address
// down to the FADT and returns the PM-timer descriptor kernel/time.Init
// needs. Physical addresses here are assumed already translated into HHDM
// virtual addresses by the caller (see Init in boot.go).
func discoverPMTimer(rsdpVirtAddr uintptr) (ktime.PMTimerDescriptor, *kernel.Error) {
	rsdp := (*rsdpDescriptor)(unsafe.Pointer(rsdpVirtAddr))
	if rsdp.revision < 2 {
		return ktime.PMTimerDescriptor{}, ErrNoXSDT
	}

	ext := (*rsdpExtension)(unsafe.Pointer(rsdpVirtAddr + unsafe.Sizeof(rsdpDescriptor{})))
	if ext.xsdtAddr == 0 {
		return ktime.PMTimerDescriptor{}, ErrNoXSDT
	}

	fadtAddr, err := findFADT(uintptr(ext.xsdtAddr))
	if err != nil {
		return ktime.PMTimerDescriptor{}, err
	}
	return pmTimerFromFADT(fadtAddr), nil
}
