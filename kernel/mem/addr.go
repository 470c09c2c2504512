package mem

import "github.com/zdivelbiss/vellum/kernel"

// AddrKind tags the address universe a Addr value belongs to. Conversions
// between universes are always explicit (see hhdm.Offset / hhdm.NegativeOffset)
// rather than implicit through the type system.
type AddrKind interface {
	~uintptr
	kindName() string
}

// Physical marks a byte-granular address in physical memory.
type Physical uintptr

func (Physical) kindName() string { return "physical" }

// Virtual marks a byte-granular address in virtual memory.
type Virtual uintptr

func (Virtual) kindName() string { return "virtual" }

// Frame marks a page-aligned physical address.
type Frame uintptr

func (Frame) kindName() string { return "frame" }

// Page marks a page-aligned virtual address.
type Page uintptr

func (Page) kindName() string { return "page" }

// Addr is a runtime-validated address belonging to a single universe T. The
// zero value is the invalid address; NewAddr rejects zero, while AddrOf
// wraps any value unchecked.
type Addr[T AddrKind] struct {
	value uintptr
}

// AddrOf constructs an Addr without validation; used internally by
// constructors that have already established the invariant (e.g. deriving a
// Page from a Frame via HHDM offsetting).
func AddrOf[T AddrKind](value uintptr) Addr[T] {
	return Addr[T]{value: value}
}

// NewAddr validates that value is non-zero and, for Frame/Page universes,
// page-aligned.
func NewAddr[T AddrKind](value uintptr) (Addr[T], *kernel.Error) {
	var zero T
	if value == 0 {
		return Addr[T]{}, &kernel.Error{Module: "mem", Message: "address must be non-zero"}
	}
	switch zero.kindName() {
	case "frame", "page":
		if value&uintptr(PageSize-1) != 0 {
			return Addr[T]{}, &kernel.Error{Module: "mem", Message: "address must be page-aligned"}
		}
	}
	return Addr[T]{value: value}, nil
}

// Value returns the raw address.
func (a Addr[T]) Value() uintptr { return a.value }

// IsValid reports whether the address is non-zero.
func (a Addr[T]) IsValid() bool { return a.value != 0 }

// Add returns a new Addr offset by delta bytes. Callers of Frame/Page variants
// are responsible for maintaining alignment; arithmetic itself never rejects
// an unaligned result; only construction from raw input does.
func (a Addr[T]) Add(delta uintptr) Addr[T] {
	return Addr[T]{value: a.value + delta}
}

// AlignUp rounds the address up to the next multiple of align (which must be
// a power of two).
func (a Addr[T]) AlignUp(align uintptr) Addr[T] {
	mask := align - 1
	return Addr[T]{value: (a.value + mask) &^ mask}
}

// AlignDown rounds the address down to the previous multiple of align.
func (a Addr[T]) AlignDown(align uintptr) Addr[T] {
	mask := align - 1
	return Addr[T]{value: a.value &^ mask}
}
