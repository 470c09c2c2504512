package boot

import (
	"debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
	"github.com/zdivelbiss/vellum/kernel/mem/pmm"
)

func TestMemmapEntryTypeToPMM(t *testing.T) {
	cases := map[limineMemmapEntryType]pmm.EntryType{
		limineMemmapUsable:               pmm.Usable,
		limineMemmapACPIReclaimable:      pmm.ACPIReclaimable,
		limineMemmapACPINVS:              pmm.ACPINVS,
		limineMemmapBadMemory:            pmm.BadMemory,
		limineMemmapBootloaderReclaimable: pmm.BootloaderReclaimable,
		limineMemmapExecutableAndModules: pmm.ExecutableAndModules,
		limineMemmapFramebuffer:          pmm.Framebuffer,
		limineMemmapReserved:             pmm.Reserved,
	}
	for in, want := range cases {
		if got := in.toPMM(); got != want {
			t.Fatalf("%v.toPMM() = %v, want %v", in, got, want)
		}
	}
}

func TestCStringStopsAtNUL(t *testing.T) {
	buf := append([]byte("--nomp"), 0, 'X')
	if got := cString(&buf[0]); got != "--nomp" {
		t.Fatalf("cString = %q, want %q", got, "--nomp")
	}
}

func TestCStringNilIsEmpty(t *testing.T) {
	if got := cString(nil); got != "" {
		t.Fatalf("cString(nil) = %q, want empty", got)
	}
}

func TestEntryAtIndexesPointerArray(t *testing.T) {
	a, b := uint64(1), uint64(2)
	entries := []*uint64{&a, &b}
	base := (**uint64)(unsafe.Pointer(&entries[0]))

	if got := entryAt(base, 0); *got != 1 {
		t.Fatalf("entryAt(0) = %d, want 1", *got)
	}
	if got := entryAt(base, 1); *got != 2 {
		t.Fatalf("entryAt(1) = %d, want 2", *got)
	}
}

func TestElfFlagsToPermission(t *testing.T) {
	cases := []struct {
		flags elf.ProgFlag
		want  addrspace.Permission
	}{
		{elf.PF_R | elf.PF_X, addrspace.ReadExecute},
		{elf.PF_R | elf.PF_W, addrspace.ReadWrite},
		{elf.PF_R, addrspace.ReadOnly},
	}
	for _, c := range cases {
		if got := elfFlagsToPermission(c.flags); got != c.want {
			t.Fatalf("elfFlagsToPermission(%v) = %v, want %v", c.flags, got, c.want)
		}
	}
}

// buildMinimalELF64 hand-assembles the smallest valid little-endian ELF64
// executable debug/elf will parse: a file header plus two PT_LOAD program
// headers, one read-execute and one read-write, with no section headers
// (none of this core's callers need them).
func buildMinimalELF64(t *testing.T) []byte {
	t.Helper()

	const (
		ehdrSize = 64
		phdrSize = 56
	)
	phoff := uint64(ehdrSize)
	buf := make([]byte, ehdrSize+2*phdrSize)

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	le.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[24:], 0x100000) // e_entry
	le.PutUint64(buf[32:], phoff)    // e_phoff
	le.PutUint64(buf[40:], 0)        // e_shoff
	le.PutUint32(buf[48:], 0)        // e_flags
	le.PutUint16(buf[52:], ehdrSize) // e_ehsize
	le.PutUint16(buf[54:], phdrSize) // e_phentsize
	le.PutUint16(buf[56:], 2)        // e_phnum
	le.PutUint16(buf[58:], 0)        // e_shentsize
	le.PutUint16(buf[60:], 0)        // e_shnum
	le.PutUint16(buf[62:], 0)        // e_shstrndx

	writePhdr := func(off int, flags uint32, vaddr, memsz uint64) {
		le.PutUint32(buf[off:], uint32(elf.PT_LOAD))
		le.PutUint32(buf[off+4:], flags)
		le.PutUint64(buf[off+8:], 0)     // p_offset
		le.PutUint64(buf[off+16:], vaddr) // p_vaddr
		le.PutUint64(buf[off+24:], vaddr) // p_paddr
		le.PutUint64(buf[off+32:], memsz) // p_filesz
		le.PutUint64(buf[off+40:], memsz) // p_memsz
		le.PutUint64(buf[off+48:], 0x1000) // p_align
	}

	writePhdr(int(phoff), uint32(elf.PF_R|elf.PF_X), 0x100000, 0x2000)
	writePhdr(int(phoff)+phdrSize, uint32(elf.PF_R|elf.PF_W), 0x200000, 0x1000)

	return buf
}

func TestParseKernelSegments(t *testing.T) {
	raw := buildMinimalELF64(t)

	segs, err := parseKernelSegments(raw)
	if err != nil {
		t.Fatalf("parseKernelSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 PT_LOAD segments, got %d", len(segs))
	}

	if segs[0].VirtAddr != 0x100000 || segs[0].MemSize != 0x2000 || segs[0].Perm != addrspace.ReadExecute {
		t.Fatalf("unexpected text segment: %+v", segs[0])
	}
	if segs[1].VirtAddr != 0x200000 || segs[1].MemSize != 0x1000 || segs[1].Perm != addrspace.ReadWrite {
		t.Fatalf("unexpected data segment: %+v", segs[1])
	}
}

func TestParseKernelSegmentsRejectsGarbage(t *testing.T) {
	if _, err := parseKernelSegments([]byte("not an ELF file")); err == nil {
		t.Fatal("expected an error parsing non-ELF bytes")
	}
}

func TestGatherFailsWithoutResponses(t *testing.T) {
	hhdm := &hhdmRequest{}
	memmap := &memmapRequest{}
	kaddr := &kernelAddressRequest{}
	kfile := &kernelFileRequest{}
	rsdp := &rsdpRequest{}
	mp := &mpRequest{}

	_, err := gather(hhdm, memmap, kaddr, kfile, rsdp, mp, nil, nil)
	if err != errMissingResponse {
		t.Fatalf("expected errMissingResponse, got %v", err)
	}
}

func TestGatherAssemblesBootInfo(t *testing.T) {
	hhdm := &hhdmRequest{response: &hhdmResponse{offset: 0xffff800000000000}}

	entries := []limineMemmapEntry{
		{base: 0x1000, length: 0x1000, typ: limineMemmapUsable},
		{base: 0x2000, length: 0x1000, typ: limineMemmapReserved},
	}
	entryPtrs := make([]*limineMemmapEntry, len(entries))
	for i := range entries {
		entryPtrs[i] = &entries[i]
	}
	memmap := &memmapRequest{response: &memmapResponse{
		entryCount: uint64(len(entries)),
		entries:    (**limineMemmapEntry)(unsafe.Pointer(&entryPtrs[0])),
	}}

	kaddr := &kernelAddressRequest{response: &kernelAddressResponse{
		physicalBase: 0x200000,
		virtualBase:  0xffffffff80000000,
	}}

	elfBytes := buildMinimalELF64(t)
	file := &limineFile{address: uintptr(unsafe.Pointer(&elfBytes[0])), size: uint64(len(elfBytes))}
	kfile := &kernelFileRequest{response: &kernelFileResponse{file: file}}

	rsdp := &rsdpRequest{response: &rsdpResponse{address: 0x7000}}

	cpu0 := mpCPUInfo{processorID: 0, lapicID: 0}
	cpu1 := mpCPUInfo{processorID: 1, lapicID: 1}
	cpus := []*mpCPUInfo{&cpu0, &cpu1}
	mp := &mpRequest{response: &mpResponse{
		bspLAPICID: 0,
		cpuCount:   2,
		cpus:       (**mpCPUInfo)(unsafe.Pointer(&cpus[0])),
	}}

	cmdlineBytes := append([]byte("--nomp"), 0)
	cmdline := &executableCmdlineRequest{response: &executableCmdlineResponse{cmdline: &cmdlineBytes[0]}}

	info, err := gather(hhdm, memmap, kaddr, kfile, rsdp, mp, nil, cmdline)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if info.HHDMBase != 0xffff800000000000 {
		t.Fatalf("unexpected HHDMBase: %#x", info.HHDMBase)
	}
	if info.CommandLine != "--nomp" {
		t.Fatalf("unexpected CommandLine: %q", info.CommandLine)
	}
	if len(info.MemoryMap) != 2 || info.MemoryMap[1].Type != pmm.Reserved {
		t.Fatalf("unexpected MemoryMap: %+v", info.MemoryMap)
	}
	if info.KernelPhysBase != 0x200000 {
		t.Fatalf("unexpected KernelPhysBase: %#x", info.KernelPhysBase)
	}
	if len(info.KernelSegments) != 2 {
		t.Fatalf("expected kernel segments to be parsed from the embedded ELF, got %d", len(info.KernelSegments))
	}
	if len(info.Threads) != 2 || info.Threads[1].LAPICID != 1 {
		t.Fatalf("unexpected Threads: %+v", info.Threads)
	}
	if info.RSDP != 0x7000 {
		t.Fatalf("unexpected RSDP: %#x", info.RSDP)
	}
}
