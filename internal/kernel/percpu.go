package kernel

import "sync/atomic"

// PerCPU holds the state a real kernel would reach through a CPU-local
// register (TPIDR_EL1 on AArch64, GS_BASE on x86-64): the currently
// executing task and this CPU's idle task (spec.md §4.6). This module
// targets exactly one logical CPU (spec.md §1 non-goals: SMP), so
// there is a single PerCPU instance rather than a per-core array, but
// the accessor shape mirrors what an SMP-ready kernel would expose.
type PerCPU struct {
	id      int
	current atomic.Pointer[Task]
	idle    *Task
}

// NewPerCPU creates CPU 0's state with the given idle task current.
func NewPerCPU(idle *Task) *PerCPU {
	cpu := &PerCPU{id: 0, idle: idle}
	cpu.current.Store(idle)
	return cpu
}

// CurrentTask returns the task the per-CPU slot says is executing. A
// trap handler reaches this without taking any lock, per spec.md §4.6.
func (c *PerCPU) CurrentTask() *Task { return c.current.Load() }

// IdleTask returns this CPU's idle task.
func (c *PerCPU) IdleTask() *Task { return c.idle }

// SetCurrentTask updates the per-CPU slot. Callers must have IRQs
// conceptually disabled, i.e. must be inside the task manager's
// locked section — in this simulated kernel that is enforced by
// TaskManager being the only caller.
func (c *PerCPU) SetCurrentTask(t *Task) { c.current.Store(t) }
