// Package clock abstracts wall-clock waiting so that settle delays, typing
// pauses and challenge polling can run against a virtual clock in tests.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock reports the current time and blocks for a duration.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when the context ends the wait early.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by the time package.
type Real struct{}

// New returns the wall clock.
func New() Clock {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Sleep waits on a timer, returning early when ctx is cancelled.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fake is a virtual clock. Sleep returns immediately after advancing the
// clock, so code that waits minutes completes instantly in tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(now time.Time)
}

// NewFake creates a virtual clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the virtual time by d and records the call.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if d > 0 {
		f.now = f.now.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
	hook := f.onSleep
	now := f.now
	f.mu.Unlock()

	if hook != nil {
		hook(now)
	}
	return nil
}

// Advance moves the virtual time forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// OnSleep registers a callback invoked after every Sleep with the new time.
func (f *Fake) OnSleep(fn func(now time.Time)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSleep = fn
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

// Slept returns the total virtual time spent sleeping.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.sleeps {
		total += d
	}
	return total
}
