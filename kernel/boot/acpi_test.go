package boot

import (
	"testing"
	"unsafe"
)

// writeHeader fills in an acpiSDTHeader at addr with signature sig and a
// byte length covering length total bytes of table (header + body). It does
// not touch the checksum; fixChecksum does that once the body is written.
func writeHeader(addr uintptr, sig [4]byte, length uint32) {
	hdr := (*acpiSDTHeader)(unsafe.Pointer(addr))
	hdr.signature = sig
	hdr.length = length
}

func fixChecksum(addr uintptr, length uint32) {
	hdr := readHeader(addr)
	hdr.checksum = 0
	var sum byte
	for i := uint32(0); i < length; i++ {
		sum += *(*byte)(unsafe.Pointer(addr + uintptr(i)))
	}
	hdr.checksum = -sum
}

func TestChecksumOK(t *testing.T) {
	buf := make([]byte, unsafe.Sizeof(acpiSDTHeader{})+16)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	writeHeader(addr, [4]byte{'T', 'E', 'S', 'T'}, uint32(len(buf)))
	fixChecksum(addr, uint32(len(buf)))

	if !checksumOK(addr, uint32(len(buf))) {
		t.Fatal("expected checksum to validate after fixup")
	}

	buf[len(buf)-1]++
	if checksumOK(addr, uint32(len(buf))) {
		t.Fatal("expected checksum to fail after corrupting a byte")
	}
}

func TestFindFADTLocatesMatchingSignature(t *testing.T) {
	hdrSize := int(unsafe.Sizeof(acpiSDTHeader{}))

	// XSDT: header + two 64-bit pointers, both backed by real tables.
	xsdtLen := hdrSize + 16
	xsdtBuf := make([]byte, xsdtLen)
	xsdtAddr := uintptr(unsafe.Pointer(&xsdtBuf[0]))
	writeHeader(xsdtAddr, [4]byte{'X', 'S', 'D', 'T'}, uint32(xsdtLen))

	other := make([]byte, hdrSize)
	writeHeader(uintptr(unsafe.Pointer(&other[0])), [4]byte{'D', 'S', 'D', 'T'}, uint32(hdrSize))

	fadt := make([]byte, hdrSize)
	writeHeader(uintptr(unsafe.Pointer(&fadt[0])), [4]byte{'F', 'A', 'C', 'P'}, uint32(hdrSize))

	entries := uintptr(unsafe.Pointer(&xsdtBuf[hdrSize]))
	*(*uint64)(unsafe.Pointer(entries)) = uint64(uintptr(unsafe.Pointer(&other[0])))
	*(*uint64)(unsafe.Pointer(entries + 8)) = uint64(uintptr(unsafe.Pointer(&fadt[0])))
	fixChecksum(xsdtAddr, uint32(xsdtLen))

	got, err := findFADT(xsdtAddr)
	if err != nil {
		t.Fatalf("findFADT: %v", err)
	}
	if got != uintptr(unsafe.Pointer(&fadt[0])) {
		t.Fatalf("expected to find FADT at %#x, got %#x", uintptr(unsafe.Pointer(&fadt[0])), got)
	}
}

func TestFindFADTMissing(t *testing.T) {
	hdrSize := int(unsafe.Sizeof(acpiSDTHeader{}))
	xsdtLen := hdrSize + 8
	xsdtBuf := make([]byte, xsdtLen)
	xsdtAddr := uintptr(unsafe.Pointer(&xsdtBuf[0]))
	writeHeader(xsdtAddr, [4]byte{'X', 'S', 'D', 'T'}, uint32(xsdtLen))

	other := make([]byte, hdrSize)
	writeHeader(uintptr(unsafe.Pointer(&other[0])), [4]byte{'D', 'S', 'D', 'T'}, uint32(hdrSize))

	entries := uintptr(unsafe.Pointer(&xsdtBuf[hdrSize]))
	*(*uint64)(unsafe.Pointer(entries)) = uint64(uintptr(unsafe.Pointer(&other[0])))
	fixChecksum(xsdtAddr, uint32(xsdtLen))

	if _, err := findFADT(xsdtAddr); err != ErrNoFADT {
		t.Fatalf("expected ErrNoFADT, got %v", err)
	}
}

func TestPMTimerFromFADTPrefersExtendedAddress(t *testing.T) {
	const tableLen = 232 // past offXPMTmrBlk + sizeof(genericAddress)
	buf := make([]byte, tableLen)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	writeHeader(addr, [4]byte{'F', 'A', 'C', 'P'}, uint32(tableLen))

	*(*uint32)(unsafe.Pointer(addr + 76)) = 0x400 // legacy PM_TMR_BLK port
	*(*uint32)(unsafe.Pointer(addr + 112)) = 1 << 8 // TMR_VAL_EXT set

	xAddr := (*genericAddress)(unsafe.Pointer(addr + 208))
	xAddr.addressSpaceID = addressSpaceSystemMemory
	xAddr.address = 0xFEE00000

	got := pmTimerFromFADT(addr)
	if !got.IsMMIO || got.Address != 0xFEE00000 {
		t.Fatalf("expected the extended MMIO address to win, got %+v", got)
	}
	if !got.Supports32Bit {
		t.Fatal("expected TMR_VAL_EXT to report 32-bit support")
	}
}

func TestPMTimerFromFADTFallsBackToLegacyPort(t *testing.T) {
	const tableLen = 120 // too short to carry the extended field
	buf := make([]byte, tableLen)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	writeHeader(addr, [4]byte{'F', 'A', 'C', 'P'}, uint32(tableLen))
	*(*uint32)(unsafe.Pointer(addr + 76)) = 0x608

	got := pmTimerFromFADT(addr)
	if got.IsMMIO || got.Address != 0x608 {
		t.Fatalf("expected the legacy port-IO address, got %+v", got)
	}
}

func TestDiscoverPMTimerRejectsRevisionOne(t *testing.T) {
	buf := make([]byte, unsafe.Sizeof(rsdpDescriptor{})+unsafe.Sizeof(rsdpExtension{}))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rsdp := (*rsdpDescriptor)(unsafe.Pointer(addr))
	rsdp.revision = 1

	if _, err := discoverPMTimer(addr); err != ErrNoXSDT {
		t.Fatalf("expected ErrNoXSDT for an ACPI 1.0 RSDP, got %v", err)
	}
}

func TestDiscoverPMTimerRejectsMissingXSDTAddress(t *testing.T) {
	buf := make([]byte, unsafe.Sizeof(rsdpDescriptor{})+unsafe.Sizeof(rsdpExtension{}))
	addr := uintptr(unsafe.Pointer(&buf[0]))
	rsdp := (*rsdpDescriptor)(unsafe.Pointer(addr))
	rsdp.revision = 2

	ext := (*rsdpExtension)(unsafe.Pointer(addr + unsafe.Sizeof(rsdpDescriptor{})))
	ext.xsdtAddr = 0

	if _, err := discoverPMTimer(addr); err != ErrNoXSDT {
		t.Fatalf("expected ErrNoXSDT when the RSDP carries no XSDT address, got %v", err)
	}
}
