package paging

import (
	"reflect"
	"unsafe"

	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/hhdm"
)

const entriesPerTable = 512

// tableFn resolves a page-table frame to its 512 PTE slots. It is a
// variable, like flushTLBEntryFn and switchPDTFn, so tests can substitute
// Go-managed backing memory for frames that don't correspond to real
// physical addresses.
var tableFn = defaultTable

// table overlays the 512 PTE slots of a page-table frame, reached through
// the HHDM.
func table(frame mem.Addr[mem.Frame]) []PTE {
	return tableFn(frame)
}

func defaultTable(frame mem.Addr[mem.Frame]) []PTE {
	addr := hhdm.OffsetFrame(frame).Value()
	hdr := reflect.SliceHeader{Data: addr, Len: entriesPerTable, Cap: entriesPerTable}
	return *(*[]PTE)(unsafe.Pointer(&hdr))
}

// UseHostBackedTables swaps in a page-table backend implemented with
// ordinary Go memory instead of the HHDM, and mocks out the TLB-flush and
// address-space-switch hooks. Used by this package's tests and by tests in
// packages that build on top of a Mapper (e.g. addrspace), none of which
// have real physical memory or a CR3 to program. Returns a restore func.
func UseHostBackedTables() (restore func()) {
	backing := make(map[uintptr]*[entriesPerTable]PTE)
	prevTable, prevFlush, prevSwitch := tableFn, flushTLBEntryFn, switchPDTFn

	tableFn = func(frame mem.Addr[mem.Frame]) []PTE {
		tbl, ok := backing[frame.Value()]
		if !ok {
			tbl = &[entriesPerTable]PTE{}
			backing[frame.Value()] = tbl
		}
		return tbl[:]
	}
	flushTLBEntryFn = func(uintptr) {}
	switchPDTFn = func(uintptr) {}

	return func() {
		tableFn = prevTable
		flushTLBEntryFn = prevFlush
		switchPDTFn = prevSwitch
	}
}

// levelShift returns the bit position of the index field for the given
// level, where level 0 addresses the leaf (4 KiB page) table.
func levelShift(level int) uint {
	return 12 + 9*uint(level)
}

// index extracts the level's 9-bit index out of a page address.
func index(page mem.Addr[mem.Page], level int) int {
	return int((page.Value() >> levelShift(level)) & 0x1ff)
}
