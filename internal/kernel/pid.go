package kernel

import "sync"

// PID is a task identifier, drawn from [1, MaxPID).
type PID uint32

// pidAllocator is a free-list allocator over [1, MaxPID), mirroring
// FrameAllocator's bump-plus-free-list shape at a much smaller scale.
// PID 0 (IdlePID) is reserved and never handed out.
type pidAllocator struct {
	mu       sync.Mutex
	next     uint32
	freeList []PID
}

var globalPIDs = &pidAllocator{next: RootPID}

func (a *pidAllocator) alloc() PID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.freeList); n > 0 {
		p := a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		return p
	}
	if a.next >= MaxPID {
		Panicf(CategoryTask, "pid allocator: exhausted [1, %d)", MaxPID)
	}
	p := PID(a.next)
	a.next++
	return p
}

func (a *pidAllocator) free(p PID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeList = append(a.freeList, p)
}

// AllocPID reserves the next available PID.
func AllocPID() PID { return globalPIDs.alloc() }

// FreePID returns a PID to the pool (called once a Zombie task has
// been reaped).
func FreePID(p PID) { globalPIDs.free(p) }
