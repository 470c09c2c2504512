package cpu

import "testing"

func TestFeatureSupportedReadsRequestedRegister(t *testing.T) {
	defer func() { cpuidFn = ID }()

	cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
		if leaf != 7 {
			t.Fatalf("unexpected leaf %d", leaf)
		}
		return 0, 1 << 7, 0, 0 // EBX.SMEP
	}

	if !featureSupported(featureBit{leaf: 7, reg: 1, bit: 7}) {
		t.Fatal("expected SMEP to be reported supported")
	}
	if featureSupported(featureBit{leaf: 7, reg: 1, bit: 20}) {
		t.Fatal("expected SMAP to be reported unsupported")
	}
}

func TestExecuteDisableSupported(t *testing.T) {
	defer func() { cpuidFn = ID }()

	cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
		if leaf == 0x80000001 {
			return 0, 0, 0, 1 << 20
		}
		return 0, 0, 0, 0
	}
	if !executeDisableSupported() {
		t.Fatal("expected NX to be reported supported")
	}
}
