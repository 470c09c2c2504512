package cpu

// CR0 feature bits relevant to long-mode bring-up.
const (
	cr0Protected    uint64 = 1 << 0
	cr0MP           uint64 = 1 << 1
	cr0ET           uint64 = 1 << 4
	cr0NE           uint64 = 1 << 5
	cr0WriteProtect uint64 = 1 << 16
	cr0Paging       uint64 = 1 << 31
)

// CR4 feature bits. Several are only set when CPUID advertises the
// corresponding capability; setting an unsupported bit faults immediately.
const (
	cr4DE         uint64 = 1 << 3
	cr4PSE        uint64 = 1 << 4
	cr4PAE        uint64 = 1 << 5
	cr4MCE        uint64 = 1 << 6
	cr4PGE        uint64 = 1 << 7
	cr4OSFXSR     uint64 = 1 << 9
	cr4OSXMMEXCPT uint64 = 1 << 10
	cr4UMIP       uint64 = 1 << 11
	cr4FSGSBASE   uint64 = 1 << 16
	cr4PCIDE      uint64 = 1 << 17
	cr4SMEP       uint64 = 1 << 20
	cr4SMAP       uint64 = 1 << 21
	cr4VME        uint64 = 1 << 0
)

// ReadCR0 returns the current value of CR0.
func ReadCR0() uint64

// WriteCR0 installs value into CR0.
func WriteCR0(value uint64)

// ReadCR4 returns the current value of CR4.
func ReadCR4() uint64

// WriteCR4 installs value into CR4.
func WriteCR4(value uint64)

// featureBits describes one CPUID-gated feature: the leaf/register/bit that
// advertises it and the CR4 (or EFER) bit it unlocks.
type featureBit struct {
	leaf    uint32
	reg     int // 0=eax 1=ebx 2=ecx 3=edx
	bit     uint
	cr4Flag uint64
}

// optionalCR4Features lists every conditionally-enabled CR4 bit alongside
// the CPUID feature that gates it, per the CPU Setup sequence.
var optionalCR4Features = []featureBit{
	{leaf: 1, reg: 3, bit: 2, cr4Flag: cr4DE},          // EDX.DE
	{leaf: 1, reg: 3, bit: 24, cr4Flag: cr4OSFXSR},     // EDX.FXSR
	{leaf: 1, reg: 3, bit: 7, cr4Flag: cr4MCE},         // EDX.MCE
	{leaf: 1, reg: 2, bit: 17, cr4Flag: cr4PCIDE},      // ECX.PCID
	{leaf: 7, reg: 2, bit: 2, cr4Flag: cr4UMIP},        // ECX.UMIP (leaf 7, sub-leaf 0)
	{leaf: 7, reg: 1, bit: 0, cr4Flag: cr4FSGSBASE},    // EBX.FSGSBASE
	{leaf: 7, reg: 1, bit: 7, cr4Flag: cr4SMEP},        // EBX.SMEP
	{leaf: 7, reg: 1, bit: 20, cr4Flag: cr4SMAP},       // EBX.SMAP
}

func featureSupported(f featureBit) bool {
	eax, ebx, ecx, edx := cpuidFn(f.leaf)
	var word uint32
	switch f.reg {
	case 0:
		word = eax
	case 1:
		word = ebx
	case 2:
		word = ecx
	default:
		word = edx
	}
	return word&(1<<f.bit) != 0
}

// executeDisableSupported reports whether the extended-feature leaf
// advertises the no-execute bit, gating EFER.NXE.
func executeDisableSupported() bool {
	_, _, _, edx := cpuidFn(0x80000001)
	return edx&(1<<20) != 0
}

// configureControlRegisters enables the long-mode prerequisites
// unconditionally and every optional feature CPUID advertises, per CPU
// Setup step 1.
func configureControlRegisters() {
	cr0 := ReadCR0()
	cr0 |= cr0Protected | cr0Paging | cr0WriteProtect | cr0NE | cr0ET | cr0MP
	WriteCR0(cr0)

	cr4 := ReadCR4()
	cr4 |= cr4PAE | cr4PGE | cr4OSXMMEXCPT
	for _, f := range optionalCR4Features {
		if featureSupported(f) {
			cr4 |= f.cr4Flag
		}
	}
	WriteCR4(cr4)

	if executeDisableSupported() {
		efer := ReadMSR(MsrEFER)
		WriteMSR(MsrEFER, efer|EferNXE)
	}
}
