package cpu

import "unsafe"

// Segment selectors, in the fixed order CPU Setup step 2 requires: null,
// kernel code, kernel data, user data, user code. The user data/code pair is
// ordered so that SYSRET's selector arithmetic (CS = STAR[63:48]+16,
// SS = STAR[63:48]+8) lands on the right descriptors.
const (
	SelectorNull       uint16 = 0x00
	SelectorKernelCode uint16 = 0x08
	SelectorKernelData uint16 = 0x10
	SelectorUserData   uint16 = 0x18 | 3
	SelectorUserCode   uint16 = 0x20 | 3
	SelectorTSS        uint16 = 0x28
)

// gdtEntry is a packed 8-byte GDT descriptor. The TSS descriptor occupies
// two consecutive 8-byte slots (a 16-byte descriptor), so the table is
// sized for 5 regular entries plus 2 TSS slots.
type gdtEntry struct {
	limitLow  uint16
	baseLow   uint16
	baseMid   uint8
	access    uint8
	flags     uint8
	baseHigh  uint8
}

const (
	accessPresent   uint8 = 1 << 7
	accessUser      uint8 = 1 << 4
	accessExecute   uint8 = 1 << 3
	accessRW        uint8 = 1 << 1
	accessRing3     uint8 = 3 << 5
	flagLongMode    uint8 = 1 << 5
	flagGranularity uint8 = 1 << 7
)

type descriptorPtr struct {
	limit uint16
	base  uintptr
}

var gdt [7]gdtEntry

func flatEntry(access, flags uint8) gdtEntry {
	return gdtEntry{
		limitLow: 0xffff,
		access:   access,
		flags:    flags | 0x0f,
	}
}

// buildGDT populates the package-level GDT with the fixed five-selector
// layout plus the two slots reserved for the 64-bit TSS descriptor.
func buildGDT() {
	gdt[0] = gdtEntry{}
	gdt[1] = flatEntry(accessPresent|accessUser|accessExecute|accessRW, flagLongMode)
	gdt[2] = flatEntry(accessPresent|accessUser|accessRW, 0)
	gdt[3] = flatEntry(accessPresent|accessUser|accessRW|accessRing3, 0)
	gdt[4] = flatEntry(accessPresent|accessUser|accessExecute|accessRW|accessRing3, flagLongMode)
	// gdt[5], gdt[6]: installed by installTSSDescriptor once the TSS's
	// address is known.
}

// installTSSDescriptor writes a 16-byte TSS descriptor spanning gdt[5:7].
func installTSSDescriptor(tssAddr uintptr, tssLimit uint32) {
	low := gdtEntry{
		limitLow: uint16(tssLimit),
		baseLow:  uint16(tssAddr),
		baseMid:  uint8(tssAddr >> 16),
		access:   accessPresent | 0x9, // present, type=0x9 (64-bit TSS available)
		baseHigh: uint8(tssAddr >> 24),
	}
	gdt[5] = low

	var high gdtEntry
	upper := uint32(tssAddr >> 32)
	high.limitLow = uint16(upper)
	high.baseLow = uint16(upper >> 16)
	gdt[6] = high
}

// loadGDT installs the descriptor-table pointer via LGDT and reloads every
// segment register to the fixed selector layout above.
func loadGDT(descPtr uintptr)

// loadTSS installs selector into the task register via LTR.
func loadTSS(selector uint16)

// InstallGDT builds and loads the GDT, step 2 of CPU Setup.
func InstallGDT() {
	buildGDT()
	desc := descriptorPtr{
		limit: uint16(unsafe.Sizeof(gdt)) - 1,
		base:  uintptr(unsafe.Pointer(&gdt[0])),
	}
	loadGDT(uintptr(unsafe.Pointer(&desc)))
}
