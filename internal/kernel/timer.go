package kernel

import (
	"math/bits"
	"sync"
	"time"
)

// NanosPerSec is 10^9, the nanosecond/Hz constant spec.md §4.9's
// ticks-to-nanos conversion multiplies by.
const NanosPerSec = 1_000_000_000

// TicksSource is the per-arch monotonic counter spec.md §4.9 derives
// wall time from (CNTPCT_EL0 on AArch64, TSC on x86-64). Reading
// either register requires assembly this module treats as an
// external collaborator (spec.md §1), so the only implementation
// provided here is systemTicks, backed by the Go runtime's own
// monotonic clock; an embedder with access to the real counter can
// supply its own TicksSource.
type TicksSource interface {
	Ticks() uint64
}

// systemTicks reports nanoseconds elapsed since it was created,
// standing in for a hardware tick counter with an implicit 1ns tick
// period (equivalent to a calibrated frequency of NanosPerSec Hz).
type systemTicks struct{ start time.Time }

func (s systemTicks) Ticks() uint64 { return uint64(time.Since(s.start).Nanoseconds()) }

// Clock converts a TicksSource into nanoseconds using the calibrated
// frequency spec.md §4.9 names, with the conversion's multiply done in
// a 128-bit intermediate (via math/bits) the way the original's
// inverse transform does, so a large tick count doesn't overflow a
// 64-bit product the way a naive `ticks*1e9/freq` would.
type Clock struct {
	source TicksSource
	freqHz uint64
}

// NewClock builds a Clock over an arbitrary ticks source, for tests
// that want to control time directly.
func NewClock(source TicksSource, freqHz uint64) *Clock {
	return &Clock{source: source, freqHz: freqHz}
}

// NewSystemClock builds a Clock backed by the real monotonic clock.
func NewSystemClock() *Clock {
	return NewClock(systemTicks{start: time.Now()}, NanosPerSec)
}

// NowNanos returns the current monotonic time in nanoseconds.
func (c *Clock) NowNanos() uint64 {
	hi, lo := bits.Mul64(c.source.Ticks(), NanosPerSec)
	q, _ := bits.Div64(hi, lo, c.freqHz)
	return q
}

// timerEntry is one pending one-shot callback.
type timerEntry struct {
	deadlineNs uint64
	callback   func(nowNs uint64)
}

// TimerList is the deadline-priority list of one-shot callbacks
// spec.md §4.9 names (`TimerList::set`); ExpireOne is meant to be
// called in a loop by the timer-tick driver until it reports nothing
// left to fire.
type TimerList struct {
	mu      sync.Mutex
	entries []timerEntry
}

// NewTimerList creates an empty timer list.
func NewTimerList() *TimerList { return &TimerList{} }

// Set schedules callback to fire once NowNanos() reaches deadlineNs.
func (tl *TimerList) Set(deadlineNs uint64, callback func(nowNs uint64)) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, timerEntry{deadlineNs: deadlineNs, callback: callback})
}

// ExpireOne pops and runs the single earliest entry whose deadline has
// passed, reporting whether it found one. Callers loop on this until
// it returns false, per spec.md §4.9's "pops every timer whose
// deadline <= now".
func (tl *TimerList) ExpireOne(nowNs uint64) bool {
	tl.mu.Lock()
	best := -1
	for i, e := range tl.entries {
		if e.deadlineNs <= nowNs && (best < 0 || e.deadlineNs < tl.entries[best].deadlineNs) {
			best = i
		}
	}
	if best < 0 {
		tl.mu.Unlock()
		return false
	}
	entry := tl.entries[best]
	tl.entries = append(tl.entries[:best], tl.entries[best+1:]...)
	tl.mu.Unlock()

	entry.callback(nowNs)
	return true
}

// NextDeadline reports the earliest pending deadline, for reprogramming
// the one-shot hardware timer (spec.md §4.9).
func (tl *TimerList) NextDeadline() (uint64, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(tl.entries) == 0 {
		return 0, false
	}
	min := tl.entries[0].deadlineNs
	for _, e := range tl.entries[1:] {
		if e.deadlineNs < min {
			min = e.deadlineNs
		}
	}
	return min, true
}

// TimerCore bundles the clock, the periodic-tick deadline, and the
// one-shot TimerList into the single driver spec.md §4.9 describes:
// each tick, advance the periodic deadline and invoke onPeriodicTick
// (an embedder-supplied hook; nothing in this module connects it to
// TaskManager, so a tick does not preempt the running task), then
// drain expired one-shot timers.
type TimerCore struct {
	clock            *Clock
	periodNs         uint64
	nextPeriodicNs   uint64
	onPeriodicTick   func(nowNs uint64)
	timers           *TimerList
	ring             interface{ PollCompletions() }
}

// NewTimerCore wires a Clock, a tick period, the periodic callback,
// and (optionally, may be nil) the SCF ring whose completion protocol
// is "driven from a periodic timer callback" per spec.md §4.8.
func NewTimerCore(clock *Clock, ticksPerSec uint64, onPeriodicTick func(nowNs uint64), ring interface{ PollCompletions() }) *TimerCore {
	period := NanosPerSec / ticksPerSec
	return &TimerCore{
		clock:          clock,
		periodNs:       period,
		nextPeriodicNs: clock.NowNanos() + period,
		onPeriodicTick: onPeriodicTick,
		timers:         NewTimerList(),
		ring:           ring,
	}
}

// Timers exposes the one-shot list for callers that want to Set a
// deadline directly.
func (tc *TimerCore) Timers() *TimerList { return tc.timers }

// Tick runs one iteration of spec.md §4.9's timer-IRQ handler: advance
// the periodic deadline if reached, drain every expired one-shot
// timer, and poll the SCF ring for completions.
func (tc *TimerCore) Tick() {
	now := tc.clock.NowNanos()
	if now >= tc.nextPeriodicNs {
		tc.nextPeriodicNs += tc.periodNs
		if tc.onPeriodicTick != nil {
			tc.onPeriodicTick(now)
		}
	}
	for tc.timers.ExpireOne(now) {
	}
	if tc.ring != nil {
		tc.ring.PollCompletions()
	}
}

// Run drives Tick from a real ticker at the configured period until
// stop is closed — the concession this simulated kernel makes for a
// hardware timer IRQ it cannot receive.
func (tc *TimerCore) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(tc.periodNs) * time.Nanosecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tc.Tick()
		}
	}
}
