// Package lapic drives the per-hardware-thread x2APIC-class Local
// Interrupt Controller entirely through model-specific registers: one MSR
// per register at base 0x800, with APIC_ID at 0x802 and a single 64-bit
// ICR at 0x830 rather than the split 32-bit pair xAPIC uses.
package lapic

import (
	"github.com/zdivelbiss/vellum/kernel"
	"github.com/zdivelbiss/vellum/kernel/cpu"
	"github.com/zdivelbiss/vellum/kernel/irq"
)

const msrBase = 0x800

// Register names a single MSR-addressed APIC register, encoded as its
// offset in units of 0x10 above msrBase (matching the xAPIC MMIO-offset
// convention the SDM still uses to number x2APIC registers).
type register uint32

const (
	regID             register = 0x02
	regVersion        register = 0x03
	regTPR            register = 0x08
	regEOI            register = 0x0B
	regSpurious       register = 0x0F
	regLVTCMCI        register = 0x2F
	regICR            register = 0x30
	regLVTTimer       register = 0x32
	regLVTThermal     register = 0x33
	regLVTPerfCounter register = 0x34
	regLVTLINT0       register = 0x35
	regLVTLINT1       register = 0x36
	regLVTError       register = 0x37
)

func readReg(r register) uint64     { return cpu.ReadMSR(msrBase + uint32(r)) }
func writeReg(r register, v uint64) { cpu.WriteMSR(msrBase+uint32(r), v) }

const (
	lvtMasked      uint64 = 1 << 16
	spuriousEnable uint64 = 1 << 8
)

// Enable turns on x2APIC mode in IA32_APIC_BASE (bits 10 and 11) before
// any MSR in the 0x800 range is touched.
func Enable() {
	base := cpu.ReadMSR(cpu.MsrApicBase)
	const apicEnable = 1 << 11
	const x2ApicEnable = 1 << 10
	cpu.WriteMSR(cpu.MsrApicBase, base|apicEnable|x2ApicEnable)
}

// Reset disables the LIC, installs the spurious vector, programs every
// LVT entry with its assigned vector and mask bit, then re-enables.
// Per-CMCI/PerformanceCounter/ThermalSensor LVTs are only touched if
// the caller reports them present via featureCMCI, featurePerfCounter
// and featureThermal.
func Reset(featureCMCI, featurePerfCounter, featureThermal bool) {
	writeReg(regSpurious, uint64(irq.VectorSpurious))

	writeReg(regLVTTimer, uint64(irq.VectorTimer)|lvtMasked)
	writeReg(regLVTLINT0, uint64(irq.VectorLINT0)|lvtMasked)
	writeReg(regLVTLINT1, uint64(irq.VectorLINT1)|lvtMasked)
	writeReg(regLVTError, uint64(irq.VectorError))
	if featureCMCI {
		writeReg(regLVTCMCI, uint64(irq.VectorCMCI)|lvtMasked)
	}
	if featurePerfCounter {
		writeReg(regLVTPerfCounter, uint64(irq.VectorPerformanceCounter)|lvtMasked)
	}
	if featureThermal {
		writeReg(regLVTThermal, uint64(irq.VectorThermalSensor)|lvtMasked)
	}

	writeReg(regSpurious, uint64(irq.VectorSpurious)|spuriousEnable)
}

// ArmTimer unmasks the timer LVT (used once the Local Timer is ready to
// take interrupts) with the given mode bit (0=one-shot, 2=TSC-deadline).
func ArmTimer(tscDeadline bool) {
	mode := uint64(0)
	if tscDeadline {
		mode = 2 << 17
	}
	writeReg(regLVTTimer, uint64(irq.VectorTimer)|mode)
}

// EndOfInterrupt acknowledges the current interrupt by writing zero to
// the EOI register.
func EndOfInterrupt() {
	writeReg(regEOI, 0)
}

// ID returns this hardware thread's APIC ID.
func ID() uint32 {
	return uint32(readReg(regID))
}

// DeliveryMode selects how the ICR interprets its vector field.
type DeliveryMode uint64

const (
	DeliveryFixed    DeliveryMode = 0 << 8
	DeliveryLowest   DeliveryMode = 1 << 8
	DeliverySMI      DeliveryMode = 2 << 8
	DeliveryNMI      DeliveryMode = 4 << 8
	DeliveryINIT     DeliveryMode = 5 << 8
	DeliveryStartup  DeliveryMode = 6 << 8
)

// DestinationMode selects physical vs. logical addressing.
type DestinationMode uint64

const (
	DestPhysical DestinationMode = 0 << 11
	DestLogical  DestinationMode = 1 << 11
)

// TriggerMode selects edge vs. level triggering.
type TriggerMode uint64

const (
	TriggerEdge  TriggerMode = 0 << 15
	TriggerLevel TriggerMode = 1 << 15
)

// Destination selects the ICR shorthand or an explicit x2APIC destination.
type Destination struct {
	Shorthand       DestinationShorthand
	ExplicitAPICID  uint32
}

// DestinationShorthand selects one of the ICR destination shorthands;
// ShorthandNone means use ExplicitAPICID.
type DestinationShorthand int

const (
	ShorthandNone DestinationShorthand = iota
	ShorthandSelf
	ShorthandAllIncludingSelf
	ShorthandAllExcludingSelf
)

// IPIRequest is the builder input for SendIPI, matching §4.7's ICR
// command fields.
type IPIRequest struct {
	Vector          uint8
	HasVector       bool
	Destination     Destination
	DeliveryMode    DeliveryMode
	DestinationMode DestinationMode
	TriggerMode     TriggerMode
	Assert          bool
}

var (
	ErrVectorRequired     = &kernel.Error{Module: "lapic", Message: "vector is required for this delivery mode"}
	ErrVectorForbidden    = &kernel.Error{Module: "lapic", Message: "vector must be absent for SMI/INIT delivery"}
	ErrDeassertNeedsLevel = &kernel.Error{Module: "lapic", Message: "de-assert is only valid with INIT and level trigger"}
	ErrDeassertNeedsAll   = &kernel.Error{Module: "lapic", Message: "INIT de-assert requires the all-including-self destination"}
	ErrLowestPriority     = &kernel.Error{Module: "lapic", Message: "x2APIC does not support lowest-priority delivery"}
)

// buildICR validates req per §4.7's rules and packs it into the 64-bit
// command value the x2APIC ICR MSR expects (destination in bits 63:32).
func buildICR(req IPIRequest) (uint64, *kernel.Error) {
	if req.DeliveryMode == DeliveryLowest {
		return 0, ErrLowestPriority
	}
	if req.DeliveryMode == DeliverySMI || req.DeliveryMode == DeliveryINIT {
		if req.HasVector {
			return 0, ErrVectorForbidden
		}
	} else if !req.HasVector {
		return 0, ErrVectorRequired
	}

	if !req.Assert {
		if req.DeliveryMode != DeliveryINIT || req.TriggerMode != TriggerLevel {
			return 0, ErrDeassertNeedsLevel
		}
		if req.Destination.Shorthand != ShorthandAllIncludingSelf {
			return 0, ErrDeassertNeedsAll
		}
	}

	var value uint64
	if req.HasVector {
		value |= uint64(req.Vector)
	}
	value |= uint64(req.DeliveryMode)
	value |= uint64(req.DestinationMode)
	value |= uint64(req.TriggerMode)
	if req.Assert {
		value |= 1 << 14
	}

	switch req.Destination.Shorthand {
	case ShorthandSelf:
		value |= 1 << 18
	case ShorthandAllIncludingSelf:
		value |= 2 << 18
	case ShorthandAllExcludingSelf:
		value |= 3 << 18
	default:
		value |= uint64(req.Destination.ExplicitAPICID) << 32
	}

	return value, nil
}

// SendIPI validates and issues an inter-processor interrupt.
func SendIPI(req IPIRequest) *kernel.Error {
	value, err := buildICR(req)
	if err != nil {
		return err
	}
	writeReg(regICR, value)
	return nil
}
