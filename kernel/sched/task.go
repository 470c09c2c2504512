// Package sched implements the run-queue scheduler and the Task it
// switches between, plus the page-fault demand mapper that materializes
// a task's lazily-backed segments on first touch.
package sched

import (
	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
)

// ElfSegment is the subset of a program header a loader hands to a Task:
// where its bytes live in the ELF image, where they are mapped, and with
// what permission. Parsing the ELF file itself, and any user-mode
// program loading beyond this, lives outside this package.
type ElfSegment struct {
	FileOffset uintptr
	FileSize   uintptr
	VirtAddr   uintptr
	MemSize    uintptr
	Perm       addrspace.Permission
}

// ElfRelocation is a single relocation record a loader applies while
// constructing a Task's address space.
type ElfRelocation struct {
	Offset uintptr
	Addend int64
}

// DemandMap records a page range a Task's address space has reserved but
// not yet backed with a frame. The page-fault demand mapper consults
// these on a #PF and materializes the faulting page with Perm.
type DemandMap struct {
	Start mem.Addr[mem.Page]
	Count int
	Perm  addrspace.Permission
}

func (d DemandMap) contains(page mem.Addr[mem.Page]) bool {
	lo := d.Start.Value()
	hi := lo + uintptr(d.Count)*uintptr(mem.PageSize)
	p := page.Value()
	return p >= lo && p < hi
}

// Task is a schedulable unit of execution: an address space plus the
// saved CPU state to resume it, and the bookkeeping a loader populated
// it with.
type Task struct {
	ID           uint64
	Priority     int // reserved; this scheduler is strict FIFO and never reads it
	AddressSpace *addrspace.AddressSpace

	SavedISF  irq.ISF
	SavedRegs irq.Registers

	LoadOffset     uintptr
	ElfSegments    []ElfSegment
	ElfRelocations []ElfRelocation
	ElfBytes       []byte

	DemandMaps []DemandMap
}

// NewTask constructs a Task with its instruction pointer and stack
// pointer preset to entry/stackTop; everything else starts zeroed, ready
// to be pushed onto the run queue.
func NewTask(id uint64, as *addrspace.AddressSpace, entry, stackTop uintptr) *Task {
	return &Task{
		ID:           id,
		AddressSpace: as,
		SavedISF: irq.ISF{
			RIP: uint64(entry),
			RSP: uint64(stackTop),
		},
	}
}

// RecordDemandMap registers a lazily-backed page range on this task,
// consulted the first time any page in the range faults.
func (t *Task) RecordDemandMap(start mem.Addr[mem.Page], count int, perm addrspace.Permission) {
	t.DemandMaps = append(t.DemandMaps, DemandMap{Start: start, Count: count, Perm: perm})
}

// demandMapFor returns the recorded DemandMap covering page, if any.
func (t *Task) demandMapFor(page mem.Addr[mem.Page]) (DemandMap, bool) {
	for _, d := range t.DemandMaps {
		if d.contains(page) {
			return d, true
		}
	}
	return DemandMap{}, false
}
