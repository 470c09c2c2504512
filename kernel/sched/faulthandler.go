package sched

import (
	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/mem"
)

// RegisterPageFaultHandler installs this Scheduler's demand mapper as the
// process-wide exception router. Call once per hardware thread, after
// that thread's Scheduler exists: a #PF taken while s.Current() is
// running on this thread is resolved against that task's DemandMaps;
// every other exception still propagates as fatal.
func (s *Scheduler) RegisterPageFaultHandler() {
	irq.HandleException(func(exc irq.ArchException) {
		if exc.Kind == irq.PageFault && s.handlePageFault(exc) {
			return
		}
		kernel.Panic(&kernel.Error{Module: "sched", Message: "unhandled exception: " + exc.Kind.String()})
	})
}

// handlePageFault materializes the faulting page if the current task
// recorded a lazy mapping covering it, reporting whether it did so.
func (s *Scheduler) handlePageFault(exc irq.ArchException) bool {
	t := s.current
	if t == nil {
		return false
	}

	page := mem.AddrOf[mem.Page](uintptr(exc.CR2) &^ (uintptr(mem.PageSize) - 1))
	dm, ok := t.demandMapFor(page)
	if !ok {
		return false
	}

	if err := t.AddressSpace.EnsureMapped(page, 1, dm.Perm); err != nil {
		return false
	}
	return true
}
