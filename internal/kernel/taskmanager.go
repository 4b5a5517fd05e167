package kernel

import (
	"fmt"
	"io"
	"runtime"
	"sync"
)

// TaskManager is the single global lock coordinating switch/yield/exit
// /wait, exactly the shape spec.md §4.4/§4.5 describes: one mutex
// guards the scheduler's ready queue and the per-CPU current-task
// pointer, and is held across the handoff between tasks.
//
// This module cannot execute a real context_switch trampoline written
// in assembly, so the "hold the lock across context_switch, release it
// from the incoming task's first instructions" rule from spec.md §4.5
// is realized with a channel per task instead of a register/stack
// swap: switchTo signals the incoming task's resumeCh while still
// holding mu, then releases mu before the outgoing task (if it is
// not exiting) parks on its own resumeCh waiting for its next turn.
// Exactly one task's goroutine is ever unblocked at a time, which is
// what "single logical CPU" means here.
type TaskManager struct {
	mu        sync.Mutex
	scheduler Scheduler
	cpu       *PerCPU
	root      *Task
}

// NewTaskManager creates a task manager around the default FIFO
// scheduler, with idle as the per-CPU idle task.
func NewTaskManager(idle *Task) *TaskManager {
	tm := &TaskManager{scheduler: NewFIFOScheduler(), cpu: NewPerCPU(idle)}
	go tm.idleLoop(idle)
	return tm
}

// idleLoop is PID 0's body: whenever it is given the CPU (the ready
// queue was empty), it immediately offers to yield again, standing in
// for `wait_for_ints` in a kernel with no real interrupt to block on.
func (tm *TaskManager) idleLoop(idle *Task) {
	for {
		<-idle.resumeCh
		runtime.Gosched()
		tm.YieldCurrent(idle)
	}
}

// CurrentTask returns the task the per-CPU slot says is running.
func (tm *TaskManager) CurrentTask() *Task { return tm.cpu.CurrentTask() }

// SetRoot installs the global reaper task (PID 1, spec.md §3). It must
// be spawned like any other task; SetRoot only remembers it as the
// reparenting target for orphans.
func (tm *TaskManager) SetRoot(root *Task) {
	root.isRoot = true
	tm.root = root
}

// Spawn places a freshly created Ready task on the ready queue.
func (tm *TaskManager) Spawn(t *Task) {
	if t.State() != TaskReady {
		Panicf(CategoryScheduler, "spawn: task %d is not Ready", t.id)
	}
	tm.mu.Lock()
	tm.scheduler.AddReadyTask(t)
	tm.mu.Unlock()
	go tm.runTask(t)
}

// runTask is the Go-level trampoline: it parks until the task is first
// scheduled, then runs the task's kernel or user body, then exits with
// its return value — spec.md §4.4's "releases the lock, enables IRQs,
// calls entry(arg), invokes exit(ret)" sequence, with the lock/IRQ
// half already handled by switchTo/YieldCurrent. A user program that
// already called Syscalls.Exit never reaches this ExitCurrent call: its
// goroutine stops at Exit's runtime.Goexit. The call here only fires
// for a body that returns normally instead of calling Exit.
func (tm *TaskManager) runTask(t *Task) {
	defer close(t.done)
	<-t.resumeCh

	ret := tm.runBody(t)
	tm.ExitCurrent(t, ret)
}

// runBody invokes the task's entry and turns a task-body panic into a
// tier-2 outcome (spec.md §7): the one task dies with exit code -1 and
// a diagnostic line, instead of bringing the whole kernel down. A
// *KernelError panic (raised via Panicf) is tier-1 by construction and
// is re-raised unchanged — those mark a kernel invariant violation, not
// a misbehaving task body.
func (tm *TaskManager) runBody(t *Task) (ret int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, fatal := r.(*KernelError); fatal {
			panic(r)
		}
		logDiag(CategoryTask, "task %d (%s) body panicked: %v", t.id, t.name, r)
		ret = -1
	}()

	switch {
	case t.kernel != nil:
		return t.kernel.fn(t.kernel.arg)
	case t.user != nil:
		return t.user.program(&Syscalls{tm: tm, task: t})
	default:
		Panicf(CategoryTask, "task %d has neither a kernel nor a user entry", t.id)
		return 0
	}
}

// switchTo performs the invariants spec.md §4.5 lists: the next task
// is marked Running, the per-CPU current-task pointer is updated
// before any further register-level state changes, and the next
// task's page-table root is loaded — all before waking the next
// task's goroutine, which happens before mu is released. next may be the same task as curr
// (nothing else was ready, including idle rescheduling to itself);
// the signal is still sent so YieldCurrent's unconditional wait on its
// own resumeCh cannot deadlock.
//
// Callers must hold tm.mu; switchTo releases it.
func (tm *TaskManager) switchTo(curr, next *Task) {
	next.setState(TaskRunning)
	tm.cpu.SetCurrentTask(next)
	next.loadPageTableRoot()

	select {
	case next.resumeCh <- struct{}{}:
	default:
		// already signalled (e.g. idle woken twice); at most one
		// pending handoff is ever meaningful.
	}

	tm.mu.Unlock()
}

// resched requires the caller's state is not Running, picks the next
// ready task (or idle if none), and switches to it. Callers must hold
// tm.mu; resched releases it (via switchTo).
func (tm *TaskManager) resched(curr *Task) {
	if curr.State() == TaskRunning {
		Panicf(CategoryScheduler, "resched: task %d is still Running", curr.id)
	}
	next := tm.scheduler.PickNextTask()
	if next == nil {
		next = tm.cpu.IdleTask()
	}
	tm.switchTo(curr, next)
}

// YieldCurrent sets curr Ready, appends it to the ready queue (unless
// it is idle), reschedules, and blocks the calling goroutine until
// curr is given the CPU again (spec.md §4.5).
func (tm *TaskManager) YieldCurrent(curr *Task) {
	tm.mu.Lock()
	curr.setState(TaskReady)
	if !curr.idle {
		tm.scheduler.AddReadyTask(curr)
	}
	tm.resched(curr) // releases tm.mu

	<-curr.resumeCh
}

// ExitCurrent marks curr Zombie, records its exit code, reparents its
// children to the root task, and reschedules away from it permanently
// — the calling goroutine does not wait for another turn, matching
// spec.md §4.4's "does not return" for exit.
func (tm *TaskManager) ExitCurrent(curr *Task, exitCode int) {
	if curr.idle {
		Panicf(CategoryTask, "exit: idle task cannot exit")
	}
	if curr.isRoot {
		Panicf(CategoryTask, "exit: root task cannot exit")
	}
	if curr.State() == TaskZombie {
		// Already exited: a second exit of the same task is a no-op.
		return
	}

	tm.mu.Lock()
	curr.setState(TaskZombie)
	curr.mu.Lock()
	curr.exitCode = exitCode
	children := curr.children
	curr.children = nil
	curr.mu.Unlock()

	if tm.root != nil {
		for _, c := range children {
			tm.root.addChild(c)
		}
	}

	tm.resched(curr) // releases tm.mu; curr's goroutine does not block again
}

// Waitpid searches curr's children for a Zombie matching pid (or any,
// if pid < 0). On success it removes the child, frees its PID, and
// returns its PID with the exit code written to *exitCode. Otherwise
// it returns the tier-3 recoverable sentinel the caller should retry
// after a yield: ErrChildBusy if a matching child exists but isn't a
// Zombie yet, ErrNoChild if no matching child exists at all.
func Waitpid(curr *Task, pid int, exitCode *int) (PID, error) {
	children := curr.Children()

	var matchingExists bool
	for _, c := range children {
		if pid >= 0 && PID(pid) != c.id {
			continue
		}
		matchingExists = true
		if c.State() == TaskZombie {
			curr.removeChild(c)
			*exitCode = c.ExitCode()
			FreePID(c.id)
			return c.id, nil
		}
	}

	if matchingExists {
		return 0, ErrChildBusy
	}
	return 0, ErrNoChild
}

// WaitpidBlocking retries Waitpid, yielding the calling task's turn
// between attempts, until a zombie child is reaped or no child
// matches at all — the "standard retry strategy" spec.md §7 names for
// a tier-3 recoverable condition.
func (tm *TaskManager) WaitpidBlocking(curr *Task, pid int, exitCode *int) (PID, error) {
	for {
		got, err := Waitpid(curr, pid, exitCode)
		if err != ErrChildBusy {
			return got, err
		}
		tm.YieldCurrent(curr)
	}
}

// DumpTasks writes a PID/PPID/#child/state table rooted at the reaper,
// supplementing the upstream TaskManager::dump_all_tasks debugging aid
// that the distilled spec dropped (see SPEC_FULL.md).
func (tm *TaskManager) DumpTasks(w io.Writer) {
	if tm.root == nil {
		return
	}
	fmt.Fprintf(w, "%4s %4s %6s  STATE\n", "PID", "PPID", "#CHILD")
	var walk func(t *Task)
	walk = func(t *Task) {
		ppid := "-"
		if t.parent != nil {
			ppid = fmt.Sprintf("%d", t.parent.id)
		}
		fmt.Fprintf(w, "%4d %4s %6d  %s\n", t.id, ppid, len(t.Children()), t.State())
		for _, c := range t.Children() {
			walk(c)
		}
	}
	walk(tm.root)
}
