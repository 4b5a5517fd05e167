package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestYield spawns two kernel tasks that each record their name, yield
// five times, and exit 0, exercising the goroutine/channel scheduler's
// basic handoff end to end (spec.md §8's yield seed test).
func TestYield(t *testing.T) {
	idle := NewIdle()
	tm := NewTaskManager(idle)

	var mu sync.Mutex
	var trace []string
	record := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}

	const rounds = 5
	done := make(chan int, 2)

	spawn := func(name string) *Task {
		task := NewKernel(name, func(arg uintptr) int {
			me := tm.CurrentTask()
			for i := 0; i < rounds; i++ {
				record(name)
				tm.YieldCurrent(me)
			}
			done <- 0
			return 0
		}, 0)
		return task
	}

	a := spawn("a")
	b := spawn("b")
	tm.Spawn(a)
	tm.Spawn(b)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("tasks did not finish within the deadline")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(trace) != 2*rounds {
		t.Fatalf("got %d recorded yields, want %d: %v", len(trace), 2*rounds, trace)
	}
	var aCount, bCount int
	for _, s := range trace {
		if s == "a" {
			aCount++
		} else {
			bCount++
		}
	}
	if aCount != rounds || bCount != rounds {
		t.Fatalf("uneven interleaving: a=%d b=%d, want %d each", aCount, bCount, rounds)
	}
}

// TestTaskBodyPanicBecomesTierTwoExit confirms a task body panic does
// not crash the whole scheduler: the task ends as a Zombie with
// exit code -1, per spec.md §7's tier-2 "task-fatal" outcome.
func TestTaskBodyPanicBecomesTierTwoExit(t *testing.T) {
	idle := NewIdle()
	tm := NewTaskManager(idle)

	task := NewKernel("flaky", func(arg uintptr) int {
		panic("simulated bug in task body")
	}, 0)
	tm.Spawn(task)

	select {
	case <-task.done:
	case <-time.After(5 * time.Second):
		t.Fatal("panicking task never finished")
	}

	if task.State() != TaskZombie {
		t.Fatalf("state: got %s, want Zombie", task.State())
	}
	if task.ExitCode() != -1 {
		t.Fatalf("exit code: got %d, want -1", task.ExitCode())
	}
}

// TestForkWaitpid exercises ErrChildBusy (parent polls before the
// child exits) and the eventual zombie reap through WaitpidBlocking.
func TestForkWaitpid(t *testing.T) {
	idle := NewIdle()
	tm := NewTaskManager(idle)
	fa := NewFrameAllocator(0, 64)
	ms := NewMemorySet(fa)

	childDone := make(chan struct{})
	childProgram := func(sc *Syscalls) int {
		sc.Yield()
		sc.Yield()
		close(childDone)
		return 7
	}

	parentResult := make(chan int, 1)
	parentProgram := func(sc *Syscalls) int {
		child := NewUser("child", ms.Dup(), 0, 0, childProgram)
		sc.Task().addChild(child)
		tm.Spawn(child)

		var code int
		pid, err := tm.WaitpidBlocking(sc.Task(), int(child.PID()), &code)
		if err != nil {
			t.Errorf("waitpid: unexpected error %v", err)
		}
		if pid != child.PID() {
			t.Errorf("waitpid: got pid %d, want %d", pid, child.PID())
		}
		parentResult <- code
		return 0
	}

	parent := NewUser("parent", ms, 0, 0, parentProgram)
	tm.Spawn(parent)

	select {
	case code := <-parentResult:
		if code != 7 {
			t.Fatalf("reaped exit code %d, want 7", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waitpid did not complete within the deadline")
	}
}

// TestWaitpidNoChildReturnsImmediately confirms Waitpid distinguishes
// "no such child at all" from "child exists but isn't a zombie yet":
// a task with no children must not block.
func TestWaitpidNoChildReturnsImmediately(t *testing.T) {
	idle := NewIdle()
	tm := NewTaskManager(idle)
	fa := NewFrameAllocator(0, 16)
	ms := NewMemorySet(fa)

	result := make(chan error, 1)
	program := func(sc *Syscalls) int {
		var code int
		_, err := Waitpid(sc.Task(), -1, &code)
		result <- err
		return 0
	}
	tm.Spawn(NewUser("solo", ms, 0, 0, program))

	select {
	case err := <-result:
		if err != ErrNoChild {
			t.Fatalf("got %v, want ErrNoChild", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("did not complete within the deadline")
	}
}

// TestCloneSharedAddressSpace runs a task that increments an atomic
// shared counter, then CLONEs a child sharing its memory set that runs
// the same body; the parent waitpids the child. The counter stands in
// for shared-memory content since this simulation has no real user
// pointers to dereference (spec.md §8's thread_simple seed test).
func TestCloneSharedAddressSpace(t *testing.T) {
	idle := NewIdle()
	tm := NewTaskManager(idle)
	fa := NewFrameAllocator(0, 16)
	ms := NewMemorySet(fa)

	const perTask = 2000
	var counter int64
	var cloned int32
	exitCodes := make(chan int, 2)

	program := func(sc *Syscalls) int {
		for i := 0; i < perTask; i++ {
			atomic.AddInt64(&counter, 1)
			sc.Yield()
		}
		if atomic.CompareAndSwapInt32(&cloned, 0, 1) {
			childPID := sc.Clone(VirtAddr(0), TrapFrame{})
			var code int
			if _, err := tm.WaitpidBlocking(sc.Task(), int(childPID), &code); err != nil {
				t.Errorf("waitpid: %v", err)
			}
			exitCodes <- code
			return code
		}
		exitCodes <- 0
		return 0
	}

	parent := NewUser("thread-a", ms, 0, 0, program)
	tm.Spawn(parent)

	for i := 0; i < 2; i++ {
		select {
		case code := <-exitCodes:
			if code != 0 {
				t.Fatalf("task exited with code %d, want 0", code)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("clone pair did not finish within the deadline")
		}
	}

	if got := atomic.LoadInt64(&counter); got != 2*perTask {
		t.Fatalf("shared counter: got %d, want %d", got, 2*perTask)
	}
}
