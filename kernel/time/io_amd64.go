package time

import "unsafe"

// inl reads a 32-bit value from the given port via the IN instruction.
func inl(port uint16) uint32

func readPort32(port uintptr) uint32 {
	return inl(uint16(port))
}

func readMMIO32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}
