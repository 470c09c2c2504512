// Package time provides the kernel's two time sources: the Stopwatch (a
// monotonic counter discovered from the ACPI PM-timer descriptor) and the
// per-hardware-thread Local Timer built on top of it.
package time

import (
	"sync"
	"time"

	"github.com/zdivelbiss/vellum/kernel"
)

// pmTimerFrequency is fixed by the ACPI specification regardless of
// counter width.
const pmTimerFrequency = 3579545

// PMTimerDescriptor is the pre-parsed subset of the ACPI FADT PM-timer
// field this core consumes; the AML/FADT parsing itself happens outside
// this package (see SPEC_FULL.md §1's external-collaborator boundary).
type PMTimerDescriptor struct {
	// IsMMIO selects port-IO vs. memory-mapped access. Port IO is
	// preferred per spec only in the sense that it's what most real
	// FADTs advertise; both paths are supported.
	IsMMIO        bool
	Address       uintptr
	Supports32Bit bool
}

func (d PMTimerDescriptor) maxValue() uint64 {
	if d.Supports32Bit {
		return 0xFFFFFFFF
	}
	return 0x00FFFFFF
}

// portReadFn/mmioReadFn are mocked by tests.
var (
	portReadFn = readPort32
	mmioReadFn = readMMIO32
)

type stopwatch struct {
	desc       PMTimerDescriptor
	ticksPerUs uint64
}

var (
	once sync.Once
	sw   *stopwatch
	set  bool
)

// InitStopwatch binds the Stopwatch to the discovered PM-timer descriptor.
// Called once during init orchestration.
func InitStopwatch(desc PMTimerDescriptor) {
	if set {
		kernel.Panic(&kernel.Error{Module: "time", Message: "InitStopwatch called more than once"})
	}
	once.Do(func() {
		sw = &stopwatch{desc: desc, ticksPerUs: pmTimerFrequency / 1_000_000}
		set = true
	})
}

// ResetForTest clears the write-once guard between test cases.
func ResetForTest() {
	once = sync.Once{}
	sw = nil
	set = false
}

func requireStopwatch() *stopwatch {
	if !set {
		kernel.Panic(&kernel.Error{Module: "time", Message: "Stopwatch used before InitStopwatch"})
	}
	return sw
}

func (s *stopwatch) read() uint64 {
	if s.desc.IsMMIO {
		return uint64(mmioReadFn(s.desc.Address))
	}
	return uint64(portReadFn(s.desc.Address))
}

// SpinWait busy-waits for the given duration, reading the Stopwatch
// repeatedly and accumulating elapsed ticks, wraparound-aware against the
// descriptor's published counter width.
func SpinWait(d time.Duration) {
	s := requireStopwatch()

	waitUs := uint64(d.Microseconds())
	waitTicks := waitUs * s.ticksPerUs
	last := s.read()

	for waitTicks > 0 {
		cur := s.read()
		var elapsed uint64
		if last < cur {
			elapsed = cur - last
		} else {
			elapsed = (s.desc.maxValue() - last) + cur
		}
		if elapsed > waitTicks {
			waitTicks = 0
		} else {
			waitTicks -= elapsed
		}
		last = cur
	}
}
