package paging

import (
	"github.com/zdivelbiss/vellum/kernel/mem"
)

// Flags describes the bits that can be set on a page table entry. The
// layout matches the amd64 paging-structure format.
type Flags uintptr

const (
	FlagPresent Flags = 1 << iota
	FlagWrite
	FlagUser
	FlagWriteThrough
	FlagCacheDisable
	FlagAccessed
	FlagDirty
	FlagHuge
	FlagGlobal
	_ // bits 9-11 are available to software; left unused
	_
	_
)

// FlagNoExecute occupies bit 63, matching the amd64 NX bit.
const FlagNoExecute Flags = 1 << 63

const ptePhysMask uintptr = 0x000ffffffffff000

// PTE is a single page table entry: a frame address plus flag bits.
type PTE uintptr

// HasFlags reports whether every bit in flags is set.
func (p PTE) HasFlags(flags Flags) bool {
	return uintptr(p)&uintptr(flags) == uintptr(flags)
}

// HasAnyFlag reports whether at least one bit in flags is set.
func (p PTE) HasAnyFlag(flags Flags) bool {
	return uintptr(p)&uintptr(flags) != 0
}

// SetFlags ORs flags into the entry.
func (p *PTE) SetFlags(flags Flags) {
	*p = PTE(uintptr(*p) | uintptr(flags))
}

// ClearFlags ANDs the complement of flags into the entry.
func (p *PTE) ClearFlags(flags Flags) {
	*p = PTE(uintptr(*p) &^ uintptr(flags))
}

// Flags returns every flag bit currently set, masking out the frame address.
func (p PTE) Flags() Flags {
	return Flags(uintptr(p) &^ ptePhysMask)
}

// Frame returns the physical frame this entry points to.
func (p PTE) Frame() mem.Addr[mem.Frame] {
	return mem.AddrOf[mem.Frame](uintptr(p) & ptePhysMask)
}

// SetFrame replaces the frame address, leaving flag bits untouched.
func (p *PTE) SetFrame(frame mem.Addr[mem.Frame]) {
	*p = PTE((uintptr(*p) &^ ptePhysMask) | (frame.Value() & ptePhysMask))
}
