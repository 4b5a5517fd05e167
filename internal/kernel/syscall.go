package kernel

import (
	"errors"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/skiff-os/skiff/internal/kernel/scf"
)

// Syscall numbers recognized by Syscall, mirroring the POSIX ids the
// upstream kernel dispatches on (spec.md §4.7). On amd64 they are
// cross-checked against golang.org/x/sys/unix's own SYS_* constants in
// init() below, so a mismatch against the real Linux ABI numbering
// this module imitates fails loudly at process start rather than
// silently drifting.
const (
	SyscallRead         = 0
	SyscallWrite        = 1
	SyscallYield        = 24
	SyscallNanosleep    = 35
	SyscallGetPID       = 39
	SyscallClone        = 56
	SyscallFork         = 57
	SyscallExec         = 59
	SyscallExit         = 60
	SyscallWaitpid      = 61
	SyscallGetTimeMs    = 96
	SyscallClockGettime = 228
)

func init() {
	if runtime.GOARCH != "amd64" {
		return // other ABIs number these syscalls differently
	}
	checks := map[string]struct{ got, want int }{
		"read":          {SyscallRead, unix.SYS_READ},
		"write":         {SyscallWrite, unix.SYS_WRITE},
		"clone":         {SyscallClone, unix.SYS_CLONE},
		"execve":        {SyscallExec, unix.SYS_EXECVE},
		"exit":          {SyscallExit, unix.SYS_EXIT},
		"wait4":         {SyscallWaitpid, unix.SYS_WAIT4},
		"clock_gettime": {SyscallClockGettime, unix.SYS_CLOCK_GETTIME},
	}
	for name, c := range checks {
		if c.got != c.want {
			Panicf(CategorySyscall, "syscall id for %s (%d) disagrees with host ABI (%d)", name, c.got, c.want)
		}
	}
	checkForkSyscallID()
}

// GlobalSCF is the process-wide SCF service, late-initialized during
// boot (spec.md §9's "init() order"). It is nil until InitSCF runs,
// which is fine: READ/WRITE simply aren't available before SCF comes
// up, same as on real hardware before the ring is mapped.
var GlobalSCF *scf.Service

// InitSCF creates the SCF ring and data pool and installs them as
// GlobalSCF.
func InitSCF(queueSize, dataSize int) error {
	ring, err := scf.NewRing(queueSize)
	if err != nil {
		return err
	}
	poolMem, err := unix.Mmap(-1, 0, dataSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return err
	}
	GlobalSCF = scf.NewService(ring, scf.NewPool(poolMem))
	return nil
}

// Syscalls is the handle a UserProgram uses to trap into the kernel,
// playing the role of the trap-frame-driven `syscall(id, args, tf)`
// entry point real user code reaches through an SVC/INT instruction
// (spec.md §4.7). Every call here performs the requested action and
// returns directly the value a trap-based dispatcher would place in
// the trap frame's return register, matching the isize return
// convention of the original dispatch table.
type Syscalls struct {
	tm   *TaskManager
	task *Task
}

// Task returns the task this syscall handle belongs to, for tests.
func (s *Syscalls) Task() *Task { return s.task }

// Yield services SYSCALL_YIELD.
func (s *Syscalls) Yield() int64 {
	s.tm.YieldCurrent(s.task)
	return 0
}

// GetPID services SYSCALL_GETPID.
func (s *Syscalls) GetPID() int64 { return int64(s.task.PID()) }

// Exit services SYSCALL_EXIT. Like the upstream sys_exit, it never
// returns to the caller: ExitCurrent reschedules the CPU onto another
// task's goroutine before Exit returns, so this goroutine must stop
// running immediately rather than fall back into the caller's
// UserProgram and race the task it just handed the CPU to.
// runtime.Goexit still runs runTask's deferred close(t.done), and
// skips runTask's own post-return ExitCurrent call.
func (s *Syscalls) Exit(code int) {
	s.tm.ExitCurrent(s.task, code)
	runtime.Goexit()
}

// Fork services SYSCALL_FORK: duplicates the address space, spawns
// the child, and returns its PID to the parent (the child's own copy
// of the trap frame already has RetVal zeroed by NewFork).
func (s *Syscalls) Fork(frame TrapFrame) int64 {
	child := NewFork(s.task, frame)
	s.task.addChild(child)
	s.tm.Spawn(child)
	return int64(child.id)
}

// Clone services SYSCALL_CLONE: spawns a child sharing the caller's
// address space with a new stack pointer, returning its PID.
func (s *Syscalls) Clone(newsp VirtAddr, frame TrapFrame) int64 {
	child := NewClone(s.task, newsp, frame)
	s.task.addChild(child)
	s.tm.Spawn(child)
	return int64(child.id)
}

// Waitpid services SYSCALL_WAITPID, returning -1 for "no such child",
// -2 for "child exists but still running", or the reaped PID with
// *exitCode populated — the exact isize contract the original
// sys_waitpid exposes to user code.
func (s *Syscalls) Waitpid(pid int, exitCode *int) int64 {
	got, err := Waitpid(s.task, pid, exitCode)
	switch err {
	case nil:
		return int64(got)
	case ErrChildBusy:
		return -2
	default:
		return -1
	}
}

// Write services SYSCALL_WRITE by forwarding to the SCF ring.
func (s *Syscalls) Write(fd uint32, data []byte) (int64, error) {
	if GlobalSCF == nil {
		return 0, ErrNotMapped
	}
	n, err := GlobalSCF.BlockingWrite(fd, data, func() { s.tm.YieldCurrent(s.task) })
	return n, translateSCFError(err)
}

// Read services SYSCALL_READ by forwarding to the SCF ring.
func (s *Syscalls) Read(fd uint32, dst []byte) (int64, error) {
	if GlobalSCF == nil {
		return 0, ErrNotMapped
	}
	n, err := GlobalSCF.BlockingRead(fd, dst, func() { s.tm.YieldCurrent(s.task) })
	return n, translateSCFError(err)
}

// translateSCFError maps the scf package's own sentinels onto this
// package's tier-3 sentinels (spec.md §7), so a caller testing
// errors.Is(err, kernel.ErrRingFull) sees it regardless of which ring
// operation produced the failure.
func translateSCFError(err error) error {
	if errors.Is(err, scf.ErrFull) {
		return ErrRingFull
	}
	return err
}

// NanosleepUntil services SYSCALL_NANOSLEEP: busy-yields until the
// deadline, matching the upstream "while get_time_ns() < stop_time {
// current.yield_now() }" loop exactly.
func (s *Syscalls) NanosleepUntil(clock *Clock, deadlineNs uint64) {
	for clock.NowNanos() < deadlineNs {
		s.tm.YieldCurrent(s.task)
	}
}

// GetTimeMs and ClockGettimeNs service SYSCALL_GET_TIME_MS and
// SYSCALL_CLOCK_GETTIME respectively; both just read the monotonic
// clock, so they're thin wrappers kept here for dispatch-table parity
// with the original syscall surface.
func (s *Syscalls) GetTimeMs(clock *Clock) int64     { return int64(clock.NowNanos() / 1_000_000) }
func (s *Syscalls) ClockGettimeNs(clock *Clock) int64 { return int64(clock.NowNanos()) }

// Exec services SYSCALL_EXEC: replaces the caller's memory set with a
// freshly loaded ELF image in place, returning the new entry trap
// frame the caller should resume into. A malformed image panics (the
// resolution to spec.md §9's open question on exec failure), exactly
// as an out-of-bounds frame/heap allocation would.
func (s *Syscalls) Exec(image []byte) TrapFrame {
	prog := Load(GlobalFrames, image)

	s.task.mu.Lock()
	old := s.task.memorySet
	s.task.memorySet = prog.MemorySet
	s.task.mu.Unlock()
	if old != nil {
		old.Destroy()
	}

	frame := TrapFrame{PC: prog.Entry, SP: prog.StackTop}
	s.task.mu.Lock()
	s.task.user = &userEntry{frame: frame, program: s.task.user.program}
	s.task.mu.Unlock()
	s.task.loadPageTableRoot()
	return frame
}
