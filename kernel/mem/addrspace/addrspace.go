// Package addrspace wraps a paging.Mapper behind a small permission
// vocabulary and a user-facing Mmap operation.
package addrspace

import (
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/paging"
)

// activePDTFn is mocked by tests, which have no real CR3 to read.
var activePDTFn = cpu.ActivePDT

// UseFakeActivePDT overrides the active-address-space probe for tests in
// this package and in packages built on top of it (e.g. kernel/sched),
// none of which have a real CR3 to read. Returns a restore func.
func UseFakeActivePDT(fn func() uintptr) (restore func()) {
	prev := activePDTFn
	activePDTFn = fn
	return func() { activePDTFn = prev }
}

// Permission is the small vocabulary of access rights Mmap callers choose
// from; each translates to a concrete group of PTE flags.
type Permission int

const (
	ReadExecute Permission = iota
	ReadWrite
	ReadOnly
)

func (p Permission) flags() paging.Flags {
	base := paging.FlagPresent | paging.FlagUser
	switch p {
	case ReadExecute:
		return base
	case ReadWrite:
		return base | paging.FlagWrite | paging.FlagNoExecute
	case ReadOnly:
		return base | paging.FlagNoExecute
	default:
		return base | paging.FlagNoExecute
	}
}

var (
	ErrNoFreeRange        = &kernel.Error{Module: "addrspace", Message: "no free virtual address range of the requested size"}
	ErrRangeAlreadyMapped = &kernel.Error{Module: "addrspace", Message: "requested fixed range is already partially mapped"}
)

// userSpaceLowest skips page zero so a null pointer never resolves to a
// valid mapping.
const userSpaceLowest = uintptr(mem.PageSize)

func userHalfBoundary(depth int) uintptr {
	if depth == 5 {
		return 1 << 56
	}
	return 1 << 47
}

// AddressSpace is a per-task virtual address space: a Mapper plus the
// bookkeeping needed to satisfy Mmap requests against it.
type AddressSpace struct {
	mapper *paging.Mapper
	walker *paging.Walker
}

// New wraps an existing Mapper (typically one built via paging.NewUserHalf).
func New(mapper *paging.Mapper) *AddressSpace {
	return &AddressSpace{mapper: mapper, walker: paging.NewWalker(mapper)}
}

// Mmap maps pageCount pages with perms. If hasAddress, it maps exactly the
// range starting at address, failing if any page in it is already mapped.
// Otherwise it searches user space, via the Walker, for the first run of
// pageCount consecutive absent leaves and maps that.
func (as *AddressSpace) Mmap(address mem.Addr[mem.Page], hasAddress bool, pageCount int, perms Permission) ([]byte, *kernel.Error) {
	var start mem.Addr[mem.Page]

	if hasAddress {
		for i := 0; i < pageCount; i++ {
			p := mem.AddrOf[mem.Page](address.Value() + uintptr(i)*uintptr(mem.PageSize))
			if as.mapper.IsMapped(p, 0) {
				return nil, ErrRangeAlreadyMapped
			}
		}
		start = address
	} else {
		boundary := userHalfBoundary(as.mapper.Depth())
		cur := mem.AddrOf[mem.Page](userSpaceLowest)
		found := false

		for cur.Value()+uintptr(pageCount)*uintptr(mem.PageSize) <= boundary {
			run := as.walker.CountAbsentRun(cur, pageCount, 0)
			if run >= pageCount {
				start = cur
				found = true
				break
			}
			// Skip past the absent run and the present leaf that ended it.
			advance := run + 1
			cur = mem.AddrOf[mem.Page](cur.Value() + uintptr(advance)*uintptr(mem.PageSize))
		}

		if !found {
			return nil, ErrNoFreeRange
		}
	}

	flags := perms.flags()
	for i := 0; i < pageCount; i++ {
		p := mem.AddrOf[mem.Page](start.Value() + uintptr(i)*uintptr(mem.PageSize))
		if err := as.mapper.AutoMap(p, flags); err != nil {
			return nil, err
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(start.Value())), pageCount*int(mem.PageSize)), nil
}

// EnsureMapped maps whichever pages in [page, page+count) are not already
// present, with perms, leaving already-mapped pages untouched. Used by the
// page-fault demand mapper and the syscall gate's user-buffer validation,
// both of which need "make this range resident" rather than Mmap's
// all-or-nothing reservation semantics.
func (as *AddressSpace) EnsureMapped(page mem.Addr[mem.Page], pageCount int, perms Permission) *kernel.Error {
	flags := perms.flags()
	for i := 0; i < pageCount; i++ {
		p := mem.AddrOf[mem.Page](page.Value() + uintptr(i)*uintptr(mem.PageSize))
		if as.mapper.IsMapped(p, 0) {
			continue
		}
		if err := as.mapper.AutoMap(p, flags); err != nil {
			return err
		}
	}
	return nil
}

// SetFlags overwrites the flags on count pages starting at page.
func (as *AddressSpace) SetFlags(page mem.Addr[mem.Page], count int, flags paging.Flags) *kernel.Error {
	for i := 0; i < count; i++ {
		p := mem.AddrOf[mem.Page](page.Value() + uintptr(i)*uintptr(mem.PageSize))
		if err := as.mapper.SetPageAttributes(p, 0, flags, paging.Set); err != nil {
			return err
		}
	}
	return nil
}

// GetFlags returns the flags set on page, or zero if page is unmapped.
func (as *AddressSpace) GetFlags(page mem.Addr[mem.Page]) paging.Flags {
	flags, _ := as.mapper.GetPageAttributes(page)
	return flags
}

// IsMmapped reports whether page is currently mapped.
func (as *AddressSpace) IsMmapped(page mem.Addr[mem.Page]) bool {
	return as.mapper.IsMapped(page, 0)
}

// IsCurrent reports whether this address space is the one currently active
// on the calling hardware thread.
func (as *AddressSpace) IsCurrent() bool {
	return activePDTFn() == as.mapper.Root().Value()
}

// SwapInto installs this address space as the active one.
func (as *AddressSpace) SwapInto() {
	as.mapper.SwapInto()
}
