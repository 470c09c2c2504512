package cpu

import "testing"

func TestBuildGDTFixedSelectorOrder(t *testing.T) {
	buildGDT()

	if gdt[0] != (gdtEntry{}) {
		t.Fatal("expected the null descriptor to stay zero")
	}
	if gdt[1].access&accessExecute == 0 {
		t.Fatal("expected kernel code descriptor to be executable")
	}
	if gdt[2].access&accessExecute != 0 {
		t.Fatal("expected kernel data descriptor to not be executable")
	}
	if gdt[3].access&accessRing3 != accessRing3 {
		t.Fatal("expected user data descriptor to carry ring-3 access bits")
	}
	if gdt[4].access&accessExecute == 0 || gdt[4].access&accessRing3 != accessRing3 {
		t.Fatal("expected user code descriptor to be executable and ring-3")
	}
}

func TestInstallTSSDescriptorSplitsAddress(t *testing.T) {
	addr := uintptr(0x1_0000_2000)
	installTSSDescriptor(addr, 0x67)

	low := gdt[5]
	if low.baseLow != uint16(addr) {
		t.Fatalf("unexpected baseLow: %x", low.baseLow)
	}
	if low.baseMid != uint8(addr>>16) {
		t.Fatalf("unexpected baseMid: %x", low.baseMid)
	}
	if low.baseHigh != uint8(addr>>24) {
		t.Fatalf("unexpected baseHigh: %x", low.baseHigh)
	}
}
