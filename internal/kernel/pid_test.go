package kernel

import "testing"

func TestPIDAllocFreeReuse(t *testing.T) {
	a := AllocPID()
	b := AllocPID()
	if a == b {
		t.Fatalf("two live allocations returned the same PID %d", a)
	}

	FreePID(a)
	c := AllocPID()
	if c != a {
		t.Fatalf("free-list reuse: got %d, want freed PID %d", c, a)
	}

	FreePID(b)
	FreePID(c)
}
