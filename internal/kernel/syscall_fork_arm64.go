//go:build arm64

package kernel

// checkForkSyscallID is a no-op on arm64: the Linux arm64 ABI has no
// standalone fork syscall number, only clone(2).
func checkForkSyscallID() {}
