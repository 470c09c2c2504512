package cpu

// Pause executes the PAUSE instruction, a hint that the current hardware
// thread is in a spin-wait loop. It reduces bus contention with whichever
// thread holds the lock or counter being polled and is cheap enough to call
// on every iteration of a busy-wait.
func Pause()
