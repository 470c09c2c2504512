// Package hhdm implements the Higher-Half Direct Map: a single process-wide
// constant establishing a virtual window that mirrors all physical memory.
package hhdm

import (
	"sync"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/mem"
)

var (
	once sync.Once
	base uintptr
	set  bool
)

// Init establishes the HHDM base. It may be called exactly once; subsequent
// calls panic, matching the write-once contract of the direct map.
func Init(virtBase uintptr) {
	if set {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "Init called more than once"})
	}
	once.Do(func() {
		base = virtBase
		set = true
	})
}

// Base returns the configured HHDM base. Panics if Init has not run.
func Base() uintptr {
	if !set {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "Base read before Init"})
	}
	return base
}

// Offset converts a physical address into its mirrored virtual address.
// Overflow is a hard error: it signals a physical address outside the range
// the memory map advertised.
func Offset(phys mem.Addr[mem.Physical]) mem.Addr[mem.Virtual] {
	v := phys.Value()
	result := base + v
	if result < base {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "physical-to-virtual offset overflowed"})
	}
	return mem.AddrOf[mem.Virtual](result)
}

// NegativeOffset converts a virtual address known to lie inside the HHDM
// window back into a physical address. Underflow is a hard error: it signals
// a pointer that does not originate in the HHDM.
func NegativeOffset(virt mem.Addr[mem.Virtual]) mem.Addr[mem.Physical] {
	v := virt.Value()
	if v < base {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "virtual address does not originate in the HHDM"})
	}
	return mem.AddrOf[mem.Physical](v - base)
}

// OffsetFrame is the Frame-typed variant of Offset.
func OffsetFrame(frame mem.Addr[mem.Frame]) mem.Addr[mem.Page] {
	v := frame.Value()
	result := base + v
	if result < base {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "frame-to-page offset overflowed"})
	}
	return mem.AddrOf[mem.Page](result)
}

// NegativeOffsetPage is the Page-typed variant of NegativeOffset.
func NegativeOffsetPage(page mem.Addr[mem.Page]) mem.Addr[mem.Frame] {
	v := page.Value()
	if v < base {
		kernel.Panic(&kernel.Error{Module: "hhdm", Message: "page address does not originate in the HHDM"})
	}
	return mem.AddrOf[mem.Frame](v - base)
}

// ResetForTest clears the write-once guard so tests, in this package and
// others that depend on it, can reinitialize the HHDM between cases. Not
// for use outside _test.go files.
func ResetForTest() {
	once = sync.Once{}
	base = 0
	set = false
}
