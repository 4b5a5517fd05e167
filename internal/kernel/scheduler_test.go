package kernel

import "testing"

func TestFIFOSchedulerOrdering(t *testing.T) {
	s := NewFIFOScheduler()
	if s.PickNextTask() != nil {
		t.Fatal("expected nil from an empty scheduler")
	}

	a := &Task{id: 1}
	b := &Task{id: 2}
	c := &Task{id: 3}
	s.AddReadyTask(a)
	s.AddReadyTask(b)
	s.AddReadyTask(c)

	if s.Len() != 3 {
		t.Fatalf("got len %d, want 3", s.Len())
	}

	for _, want := range []*Task{a, b, c} {
		if got := s.PickNextTask(); got != want {
			t.Fatalf("got task %d, want %d", got.id, want.id)
		}
	}
	if s.PickNextTask() != nil {
		t.Fatal("expected nil once drained")
	}
}
