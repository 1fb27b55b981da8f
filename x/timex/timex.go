package timex

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"
)

// Clock is the monotonic time source used by cooperative wait loops.
// Now is the time since boot; Yield gives other tasks a chance to run.
type Clock interface {
	Now() time.Duration
	Yield()
}

// System is the wall clock of the running process.
type System struct{ start time.Time }

func NewSystem() *System { return &System{start: time.Now()} }

func (s *System) Now() time.Duration { return time.Since(s.start) }
func (s *System) Yield()             { runtime.Gosched() }

// StepClock is a deterministic clock for tests: every Yield advances
// time by Step. Safe for concurrent use.
type StepClock struct {
	now  atomic.Int64
	step int64
}

func NewStepClock(step time.Duration) *StepClock {
	if step <= 0 {
		step = time.Microsecond
	}
	return &StepClock{step: int64(step)}
}

func (c *StepClock) Now() time.Duration      { return time.Duration(c.now.Load()) }
func (c *StepClock) Yield()                  { c.now.Add(c.step) }
func (c *StepClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

// WaitUntil yields until the clock reaches deadline or ctx ends.
func WaitUntil(ctx context.Context, c Clock, deadline time.Duration) error {
	for c.Now() < deadline {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.Yield()
	}
	return nil
}

// Sleep is the cooperative delay(): it yields rather than blocking the thread.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	return WaitUntil(ctx, c, c.Now()+d)
}

// PeriodFromHz returns a nanosecond period for a requested frequency.
// freqHz==0 is coerced to 1 to avoid division by zero.
func PeriodFromHz(freqHz uint32) uint64 {
	if freqHz == 0 {
		freqHz = 1
	}
	return uint64(1_000_000_000 / uint64(freqHz))
}
