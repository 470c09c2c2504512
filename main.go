package main

import "github.com/zdivelbiss/vellum/kernel/boot"

// main is the only Go symbol visible to the rt0 assembly stub that Limine
// jumps to after loading the kernel image. It is a trampoline for the real
// entry point, kernel/boot.Start, kept separate so the Go compiler can't
// optimize the call away without seeing what rt0 does with the symbol.
//
// main is not expected to return; if it does, rt0 halts the CPU.
func main() {
	boot.Start()
}
