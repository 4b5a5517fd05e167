//go:build amd64

package kernel

import "golang.org/x/sys/unix"

// checkForkSyscallID cross-checks SyscallFork against the host ABI.
// arm64 has no standalone fork syscall (clone(2) subsumes it), so this
// check only exists on amd64.
func checkForkSyscallID() {
	if SyscallFork != unix.SYS_FORK {
		Panicf(CategorySyscall, "syscall id for fork (%d) disagrees with host ABI (%d)", SyscallFork, unix.SYS_FORK)
	}
}
