package kernel

import "testing"

// fakeTicks is a directly-controllable TicksSource for deterministic
// clock-conversion tests.
type fakeTicks struct{ n uint64 }

func (f *fakeTicks) Ticks() uint64 { return f.n }

func TestClockNowNanosAtVaryingFrequency(t *testing.T) {
	src := &fakeTicks{}
	clock := NewClock(src, 1_000_000) // 1 MHz: each tick is 1000ns

	src.n = 5
	if got, want := clock.NowNanos(), uint64(5000); got != want {
		t.Fatalf("got %d ns, want %d", got, want)
	}

	src.n = 1_000_000
	if got, want := clock.NowNanos(), uint64(NanosPerSec); got != want {
		t.Fatalf("got %d ns, want %d", got, want)
	}
}

func TestTimerListExpiresEarliestFirst(t *testing.T) {
	tl := NewTimerList()
	var fired []int

	tl.Set(300, func(uint64) { fired = append(fired, 300) })
	tl.Set(100, func(uint64) { fired = append(fired, 100) })
	tl.Set(200, func(uint64) { fired = append(fired, 200) })

	for tl.ExpireOne(250) {
	}

	if len(fired) != 2 || fired[0] != 100 || fired[1] != 200 {
		t.Fatalf("got %v, want [100 200] (300 not yet due)", fired)
	}

	deadline, ok := tl.NextDeadline()
	if !ok || deadline != 300 {
		t.Fatalf("next deadline: got (%d, %v), want (300, true)", deadline, ok)
	}

	if !tl.ExpireOne(300) {
		t.Fatal("expected the remaining timer to fire at its deadline")
	}
	if _, ok := tl.NextDeadline(); ok {
		t.Fatal("expected no timers left")
	}
}

func TestTimerCoreTickDrivesPeriodicAndOneShot(t *testing.T) {
	src := &fakeTicks{}
	clock := NewClock(src, NanosPerSec) // 1 tick == 1ns

	var periodicFires int
	core := NewTimerCore(clock, 100, func(uint64) { periodicFires++ }, nil) // 10ms period

	var oneShotFired bool
	core.Timers().Set(clock.NowNanos()+5_000_000, func(uint64) { oneShotFired = true })

	src.n += 10_000_000 // advance past one period
	core.Tick()

	if periodicFires != 1 {
		t.Fatalf("periodic fires: got %d, want 1", periodicFires)
	}
	if !oneShotFired {
		t.Fatal("one-shot timer due before this tick did not fire")
	}
}
