// Package clock abstracts wall time for the timer-driven state machines so
// tests can fire capture and expiry timers deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is the part of *time.Timer callers need
type Timer interface {
	Stop() bool
}

// Clock provides the current time and one-shot callbacks
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Fake is a manually advanced clock. Timer callbacks run synchronously on
// the goroutine that calls Advance or Fire.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*FakeTimer
}

// NewFake returns a Fake set to start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &FakeTimer{D: d, at: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward and fires every due timer in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	var due []*FakeTimer
	for _, t := range f.timers {
		if !t.at.After(now) {
			due = append(due, t)
		}
	}
	f.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.Fire()
	}
}

// Timers returns every timer created so far, fired or not
func (f *Fake) Timers() []*FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeTimer(nil), f.timers...)
}

// Last returns the most recently created timer, or nil
func (f *Fake) Last() *FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

// Pending counts timers that were neither stopped nor fired
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.Stopped() && !t.Fired() {
			n++
		}
	}
	return n
}

// FakeTimer is a Timer created by Fake
type FakeTimer struct {
	D  time.Duration
	at time.Time
	fn func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *FakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Fire runs the callback now unless the timer was stopped or already fired.
func (t *FakeTimer) Fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

func (t *FakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *FakeTimer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}
