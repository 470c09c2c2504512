package hhdm

import (
	"testing"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/mem"
)

func TestOffsetRoundTrip(t *testing.T) {
	ResetForTest()
	Init(0xffff800000000000)

	phys := mem.AddrOf[mem.Physical](0x1000)
	virt := Offset(phys)
	if virt.Value() != 0xffff800000001000 {
		t.Fatalf("unexpected virtual address: %#x", virt.Value())
	}

	back := NegativeOffset(virt)
	if back.Value() != phys.Value() {
		t.Fatalf("round trip mismatch: got %#x, want %#x", back.Value(), phys.Value())
	}
}

func TestFrameAndPageVariants(t *testing.T) {
	ResetForTest()
	Init(0xffff800000000000)

	frame := mem.AddrOf[mem.Frame](0x2000)
	page := OffsetFrame(frame)
	if page.Value() != 0xffff800000002000 {
		t.Fatalf("unexpected page address: %#x", page.Value())
	}

	back := NegativeOffsetPage(page)
	if back.Value() != frame.Value() {
		t.Fatalf("round trip mismatch: got %#x, want %#x", back.Value(), frame.Value())
	}
}

func TestInitTwiceHalts(t *testing.T) {
	ResetForTest()
	Init(0xffff800000000000)

	var halted bool
	kernel.SetHaltFn(func() { halted = true })
	defer kernel.SetHaltFn(func() {})

	Init(0xffff900000000000)

	if !halted {
		t.Fatal("expected a second Init call to reach kernel.Panic")
	}
}

func TestNegativeOffsetOutsideWindowHalts(t *testing.T) {
	ResetForTest()
	Init(0xffff800000000000)

	var halted bool
	kernel.SetHaltFn(func() { halted = true })
	defer kernel.SetHaltFn(func() {})

	NegativeOffset(mem.AddrOf[mem.Virtual](0x1000))

	if !halted {
		t.Fatal("expected an out-of-window virtual address to reach kernel.Panic")
	}
}
