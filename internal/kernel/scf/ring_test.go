package scf

import "testing"

func newTestRing(t *testing.T, size int) *Ring {
	t.Helper()
	r, err := NewRing(size)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRingSubmitPollRoundTrip(t *testing.T) {
	r := newTestRing(t, 4096)

	cv := &CondVar{}
	if err := r.Submit(OpcodeWrite, 42, cv); err != nil {
		t.Fatalf("submit: %v", err)
	}

	r.ExternalStep(func(opcode Opcode, args uint64) uint64 {
		if opcode != OpcodeWrite {
			t.Fatalf("handler saw opcode %s, want Write", opcode)
		}
		return args * 2
	})

	r.PollCompletions()

	if !cv.Ready() {
		t.Fatal("condvar not signalled after PollCompletions")
	}
	if got := cv.Wait(func() {}); got != 84 {
		t.Fatalf("got retval %d, want 84", got)
	}
}

func TestRingFreeCountRestoredAfterCompletion(t *testing.T) {
	r := newTestRing(t, 4096)
	capacity := r.Capacity()

	cv := &CondVar{}
	if err := r.Submit(OpcodeRead, 1, cv); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if r.freeCount != capacity-1 {
		t.Fatalf("freeCount after submit: got %d, want %d", r.freeCount, capacity-1)
	}

	r.ExternalStep(func(Opcode, uint64) uint64 { return 7 })
	r.PollCompletions()

	if r.freeCount != capacity {
		t.Fatalf("freeCount after completion: got %d, want %d (full capacity restored)", r.freeCount, capacity)
	}
	for i, d := range r.descs {
		if d.Valid != 0 {
			t.Fatalf("descriptor %d still marked valid after completion", i)
		}
	}
}

func TestRingSubmitFullReturnsErrFull(t *testing.T) {
	r := newTestRing(t, 4096)
	capacity := r.Capacity()

	for i := 0; i < capacity; i++ {
		if err := r.Submit(OpcodeNop, uint64(i), nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if err := r.Submit(OpcodeNop, 999, nil); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
}
