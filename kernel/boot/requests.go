package boot

import "github.com/zdivelbiss/vellum/kernel"

// Package-level Limine protocol requests. In a real Limine boot the
// bootloader scans the kernel image for a `.requests` section holding
// structs exactly like these (tagged with the request IDs below) and fills
// in each one's response pointer before jumping to the entry point; nothing
// in this file needs to run to make that happen; it is already satisfied by
// how these are declared. Start, below, simply reads back what the
// bootloader already filled in.
//
// The request ID pairs mirror the ones the Limine boot protocol
// specification assigns to each request type.
var (
	hhdmReq = hhdmRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x48dcf1cb8ad2b852, 0x63984e959a98244b}},
	}
	memmapReq = memmapRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x67cf3d9d378a806f, 0xe304acdfc50c3c62}},
	}
	kernelAddressReq = kernelAddressRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x71ba76863cc55f63, 0xb2644a48c516a487}},
	}
	kernelFileReq = kernelFileRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0xad97e90e83f1ed67, 0x31eb5d1c5ff23b69}},
	}
	rsdpReq = rsdpRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0xc5e77b6b397e7b43, 0x27637845accdcf3c}},
	}
	mpReq = mpRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x95a67b819a1b857e, 0xa0b61b723b6a73e0}},
	}
	stackSizeReq = stackSizeRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x224ef0460a8e8926, 0xe1cb0fc25f46ea3d}},
		stackSize:           256 * 1024,
	}
	executableCmdlineReq = executableCmdlineRequest{
		limineRequestHeader: limineRequestHeader{id: [4]uint64{limineCommonMagic[0], limineCommonMagic[1], 0x4b161536e598651e, 0xb390ad4a2f1f303a}},
	}
)

// Start is the kernel's real entry point once the bootloader's rt0-level
// handoff has run: it gathers the Limine responses into a BootInfo and
// hands control to Init, which does not return.
func Start() {
	info, err := gather(&hhdmReq, &memmapReq, &kernelAddressReq, &kernelFileReq, &rsdpReq, &mpReq, &stackSizeReq, &executableCmdlineReq)
	if err != nil {
		kernel.Panic(err)
	}
	Init(info)
}
