package time

import (
	"testing"
	gotime "time"
)

func withFeatures(t *testing.T, feat cpuFeatures) {
	t.Helper()
	prev := readCPUFeaturesFn
	readCPUFeaturesFn = func() cpuFeatures { return feat }
	t.Cleanup(func() { readCPUFeaturesFn = prev })
}

func TestNewLocalTimerChoosesTSCDeadline(t *testing.T) {
	withFeatures(t, cpuFeatures{
		hasTSC: true, hasTSCDeadline: true, hasInvariantTSC: true,
		busFrequency: 3_000_000_000,
	})

	prevArm := armTimerFn
	armTimerFn = func(bool) {}
	defer func() { armTimerFn = prevArm }()

	lt := NewLocalTimer()
	if lt.mode != modeTSCDeadline {
		t.Fatalf("expected TSC-deadline mode, got %v", lt.mode)
	}
	if lt.frequency != 3_000_000_000 {
		t.Fatalf("expected to use the CPUID-reported frequency, got %d", lt.frequency)
	}
}

func TestNewLocalTimerFallsBackToLAPIC(t *testing.T) {
	withFeatures(t, cpuFeatures{hasTSC: true})

	prevWrite := writeLAPICInitialCountFn
	defer func() { writeLAPICInitialCountFn = prevWrite }()

	prevRead := readLAPICCurrentCountFn
	readLAPICCurrentCountFn = func() uint32 { return 0xFFFFFFFF }
	defer func() { readLAPICCurrentCountFn = prevRead }()

	prevArm := armTimerFn
	armTimerFn = func(bool) {}
	defer func() { armTimerFn = prevArm }()

	ResetForTest()
	InitStopwatch(PMTimerDescriptor{Supports32Bit: true})
	defer func() { portReadFn = readPort32 }()
	portReadFn = func(uintptr) uint32 { return 0 }

	lt := NewLocalTimer()
	if lt.mode != modeLAPICOneShot {
		t.Fatalf("expected LAPIC one-shot mode, got %v", lt.mode)
	}
}

func TestSetWaitTSCDeadlineRejectsOverflow(t *testing.T) {
	lt := &LocalTimer{mode: modeTSCDeadline, frequency: 10_000_000_000}
	if err := lt.SetWait(gotime.Hour * 1000000); err != ErrInvalidWait {
		t.Fatalf("expected ErrInvalidWait, got %v", err)
	}
}

func TestSetWaitLAPICWritesInitialCount(t *testing.T) {
	var gotCount uint32
	prev := writeLAPICInitialCountFn
	writeLAPICInitialCountFn = func(c uint32) { gotCount = c }
	defer func() { writeLAPICInitialCountFn = prev }()

	lt := &LocalTimer{mode: modeLAPICOneShot, frequency: 1_000_000}
	if err := lt.SetWait(gotime.Millisecond); err != nil {
		t.Fatalf("SetWait: %v", err)
	}
	if gotCount != 1000 {
		t.Fatalf("expected 1000 ticks for 1ms at 1MHz, got %d", gotCount)
	}
}
