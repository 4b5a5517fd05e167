// Command skiff-kernel boots the simulated kernel: it brings up the
// kernel heap, frame allocator, kernel address space, task manager
// (spawning the root reaper task), SCF ring, and timer core, in that
// order, and then drives the timer loop forever.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/skiff-os/skiff/internal/kernel"
)

func main() {
	cfg := kernel.DefaultConfig()

	fmt.Println()
	fmt.Println("========================================")
	fmt.Println("       skiff kernel — booting")
	fmt.Println("========================================")
	fmt.Println()

	// init() order: heap -> frames -> paging -> tasks -> SCF -> timer.
	// The timer core comes last because it is built with the SCF ring it
	// polls; there is no driver bring-up step.
	heap := kernel.NewKernelHeap(kernel.VirtAddr(kernel.PhysVirtOffset), 16*1024*1024)
	fmt.Printf("kernel heap:  base=%s size=16MiB\n", heap.Base())

	kernel.InitFrames(0, 4096)
	total, free := kernel.GlobalFrames.Stats()
	fmt.Printf("frame pool:   %d frames (%d free)\n", total, free)

	ekernel := kernel.PhysAddr(2 * 1024 * 1024)       // placeholder end-of-image symbol
	physEnd := ekernel + kernel.PhysAddr(8*1024*1024) // demo RAM window, not cfg.PhysMemoryEnd's full 1GiB
	kspace := kernel.BuildKernelMemorySet(kernel.GlobalFrames, nil, ekernel, physEnd, nil)
	fmt.Printf("kernel space: %d areas mapped\n", len(kspace.Areas()))

	idle := kernel.NewIdle()
	tm := kernel.NewTaskManager(idle)

	root := kernel.NewKernel("reaper", reaperLoop(tm), 0)
	tm.SetRoot(root)
	tm.Spawn(root)

	if err := kernel.InitSCF(kernel.ScfQueueBufSize, kernel.ScfDataBufSize); err != nil {
		log.Printf("SCF ring unavailable: %v", err)
	} else {
		fmt.Println("SCF ring:     mapped")
	}

	clock := kernel.NewSystemClock()
	var ring interface{ PollCompletions() }
	if kernel.GlobalSCF != nil {
		ring = kernel.GlobalSCF.Ring
	}
	timers := kernel.NewTimerCore(clock, cfg.TicksPerSec, func(nowNs uint64) {
		_ = nowNs // periodic preemption hook; this scheduler is cooperative-yield driven
	}, ring)

	fmt.Println()
	fmt.Println("skiff kernel is up.")

	stop := make(chan struct{})
	timers.Run(stop)
}

// reaperLoop is PID 1's body: forever wait on any child becoming a
// zombie and reap it, adopting orphans from every exited task
// (spec.md §4.4).
func reaperLoop(tm *kernel.TaskManager) func(arg uintptr) int {
	return func(arg uintptr) int {
		root := tm.CurrentTask()
		for {
			var code int
			_, err := tm.WaitpidBlocking(root, -1, &code)
			if err == kernel.ErrNoChild {
				tm.YieldCurrent(root)
				continue
			}
			fmt.Fprintf(os.Stdout, "reaped orphan, exit code %d\n", code)
		}
	}
}
