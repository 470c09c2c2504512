package time

import (
	"time"

	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/lapic"
)

const calibrationInterval = 50 * time.Millisecond

// mode distinguishes the two Local Timer backends §4.9 supports.
type mode int

const (
	modeTSCDeadline mode = iota
	modeLAPICOneShot
)

// LocalTimer is constructed once per hardware thread during CPU Setup.
type LocalTimer struct {
	mode      mode
	frequency uint64
}

var (
	ErrInvalidWait = &kernel.Error{Module: "time", Message: "requested wait duration overflows the timer's tick counter"}
)

// cpuFeatures abstracts the CPUID-leaf queries NewLocalTimer needs, so
// tests can supply a fake processor profile instead of real CPUID output.
type cpuFeatures struct {
	hasTSC             bool
	hasTSCDeadline     bool
	hasInvariantTSC    bool
	hasHypervisor      bool
	busFrequency       uint64
	hypervisorTSCFreq  uint64
	hypervisorAPICFreq uint32
}

var (
	readCPUFeaturesFn = readCPUFeaturesReal
	armTimerFn        = lapic.ArmTimer
)

func readCPUFeaturesReal() cpuFeatures {
	_, _, ecx1, edx1 := cpu.ID(1)
	_, _, _, edx7 := cpu.ID(0x80000007)
	hv := ecx1&(1<<31) != 0

	var busFreq uint64
	if eax15, ebx15, ecx15, _ := cpu.ID(0x15); eax15 != 0 && ebx15 != 0 && ecx15 != 0 {
		// leaf 0x15 gives the TSC/crystal ratio as EBX/EAX and the crystal's
		// own frequency in ECX; the TSC frequency is their product.
		busFreq = uint64(ecx15) * uint64(ebx15) / uint64(eax15)
	}

	var hvTSC uint64
	var hvAPIC uint32
	if hv {
		eax, ebx, _, _ := cpu.ID(0x40000010)
		hvTSC = uint64(eax)
		hvAPIC = ebx
	}

	return cpuFeatures{
		hasTSC:             edx1&(1<<4) != 0,
		hasTSCDeadline:     ecx1&(1<<24) != 0,
		hasInvariantTSC:    edx7&(1<<8) != 0,
		hasHypervisor:      hv,
		busFrequency:       busFreq,
		hypervisorTSCFreq:  hvTSC,
		hypervisorAPICFreq: hvAPIC,
	}
}

func measureTSC() uint64 {
	start := cpu.ReadTSC()
	SpinWait(calibrationInterval)
	end := cpu.ReadTSC()
	elapsed := end - start
	return elapsed * uint64(time.Second/calibrationInterval)
}

func measureLAPIC() uint32 {
	const maxCount = 0xFFFFFFFF
	armTimerFn(false)
	start := uint32(maxCount)
	SpinWait(calibrationInterval)
	elapsed := start - readLAPICCurrentCountFn()
	return uint32(uint64(elapsed) * uint64(time.Second/calibrationInterval))
}

// readLAPICCurrentCountFn is mocked by tests; production wiring reads the
// x2APIC current-count MSR.
var readLAPICCurrentCountFn = func() uint32 { return 0 }

// NewLocalTimer chooses TSC-Deadline mode if the processor advertises TSC,
// TSC-deadline, and an invariant TSC; otherwise falls back to LAPIC
// one-shot. Either way it determines a tick frequency: from CPUID leaf
// 0x15/hypervisor leaf if available, else by spinning the Stopwatch for
// calibrationInterval.
func NewLocalTimer() *LocalTimer {
	feat := readCPUFeaturesFn()

	if feat.hasTSC && feat.hasTSCDeadline && feat.hasInvariantTSC {
		armTimerFn(true)
		freq := feat.busFrequency
		if freq == 0 && feat.hasHypervisor && feat.hypervisorTSCFreq != 0 {
			freq = feat.hypervisorTSCFreq * 1000 // reported in kHz
		}
		if freq == 0 {
			freq = measureTSC()
		}
		return &LocalTimer{mode: modeTSCDeadline, frequency: freq}
	}

	armTimerFn(false)
	freq := uint64(feat.hypervisorAPICFreq)
	if freq == 0 {
		freq = uint64(measureLAPIC())
	}
	return &LocalTimer{mode: modeLAPICOneShot, frequency: freq}
}

// SetWait arms the next timer interrupt at now+duration, rounding to whole
// microseconds.
func (lt *LocalTimer) SetWait(d time.Duration) *kernel.Error {
	waitUs := uint64(d.Microseconds())
	ticksPerUs := lt.frequency / 1_000_000
	if ticksPerUs == 0 {
		return ErrInvalidWait
	}
	waitTicks := ticksPerUs * waitUs
	if waitTicks/ticksPerUs != waitUs {
		return ErrInvalidWait
	}

	switch lt.mode {
	case modeTSCDeadline:
		target := cpu.ReadTSC() + waitTicks
		cpu.WriteMSR(cpu.MsrTSCDeadline, target)
	case modeLAPICOneShot:
		if waitTicks > 0xFFFFFFFF {
			return ErrInvalidWait
		}
		writeLAPICInitialCountFn(uint32(waitTicks))
	}
	return nil
}

// writeLAPICInitialCountFn is mocked by tests.
var writeLAPICInitialCountFn = func(uint32) {}
