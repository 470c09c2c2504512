package irq

import "testing"

func TestDecodeSelectorErrorGDT(t *testing.T) {
	// external=1, table=GDT(00), index=5
	code := uint64(1) | uint64(5)<<3
	got := DecodeSelectorError(code)
	if !got.External || got.Table != TableGDT || got.Index != 5 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestDecodeSelectorErrorIDT(t *testing.T) {
	code := uint64(0) | uint64(1)<<1 | uint64(9)<<3
	got := DecodeSelectorError(code)
	if got.Table != TableIDT || got.Index != 9 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestBuildArchExceptionPageFault(t *testing.T) {
	defer func() { readCR2Fn = nil }()
	readCR2Fn = func() uint64 { return 0xdeadbeef }

	isf := &ISF{}
	regs := &Registers{}
	exc := buildArchException(VectorPageFault, uint64(PFPresent|PFWrite), isf, regs)

	if exc.Kind != PageFault {
		t.Fatalf("expected PageFault kind, got %v", exc.Kind)
	}
	if exc.CR2 != 0xdeadbeef {
		t.Fatalf("expected CR2 to be read, got %x", exc.CR2)
	}
	if exc.PageFaultFlags&PFWrite == 0 {
		t.Fatal("expected write flag to be set")
	}
}

func TestBuildArchExceptionNonPageFaultSkipsCR2(t *testing.T) {
	defer func() { readCR2Fn = nil }()
	called := false
	readCR2Fn = func() uint64 { called = true; return 0 }

	buildArchException(VectorGeneralProtection, 0, &ISF{}, &Registers{})
	if called {
		t.Fatal("expected CR2 not to be read for a non-page-fault exception")
	}
}

func TestVectorHasErrorCode(t *testing.T) {
	if !VectorPageFault.HasErrorCode() {
		t.Fatal("expected #PF to carry an error code")
	}
	if VectorBreakpoint.HasErrorCode() {
		t.Fatal("expected #BP to not carry an error code")
	}
}

func TestVectorIsPresent(t *testing.T) {
	if VectorInvalidTSS.IsPresent() == false {
		t.Fatal("expected vector 10 to be present")
	}
	if Vector(9).IsPresent() {
		t.Fatal("expected vector 9 to be absent")
	}
}
