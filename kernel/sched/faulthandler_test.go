package sched

import (
	"testing"

	"github.com/zdivelbiss/vellum/kernel/irq"
	"github.com/zdivelbiss/vellum/kernel/mem"
	"github.com/zdivelbiss/vellum/kernel/mem/addrspace"
)

func TestHandlePageFaultMaterializesRecordedRange(t *testing.T) {
	s := newTestScheduler(t)
	as := newTestAddressSpace(t)

	task := NewTask(1, as, 0, 0)
	page := mem.AddrOf[mem.Page](0x500000)
	task.RecordDemandMap(page, 2, addrspace.ReadWrite)
	s.current = task

	exc := irq.ArchException{Kind: irq.PageFault, CR2: uint64(page.Value()) + 0x10}
	if !s.handlePageFault(exc) {
		t.Fatal("expected handlePageFault to resolve the fault")
	}
	if !as.IsMmapped(page) {
		t.Fatal("expected the faulting page to be mapped")
	}
}

func TestHandlePageFaultRejectsUnrecordedRange(t *testing.T) {
	s := newTestScheduler(t)
	as := newTestAddressSpace(t)

	task := NewTask(1, as, 0, 0)
	s.current = task

	exc := irq.ArchException{Kind: irq.PageFault, CR2: 0x900000}
	if s.handlePageFault(exc) {
		t.Fatal("expected handlePageFault to reject an address with no recorded demand map")
	}
}

func TestHandlePageFaultWithNoCurrentTask(t *testing.T) {
	s := newTestScheduler(t)

	exc := irq.ArchException{Kind: irq.PageFault, CR2: 0x500000}
	if s.handlePageFault(exc) {
		t.Fatal("expected handlePageFault to reject a fault with no running task")
	}
}
