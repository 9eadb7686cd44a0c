// Package clock abstracts the wall clock so that retention arithmetic can be
// tested with simulated time.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the retention ledger and the executor.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a manually advanced Clock. The zero value is not usable; create one
// with NewFake or NewFakeUnix.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// NewFakeUnix returns a Fake clock frozen at the given unix second.
func NewFakeUnix(sec int64) *Fake {
	return NewFake(time.Unix(sec, 0))
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// SetUnix jumps the clock to the given unix second.
func (f *Fake) SetUnix(sec int64) {
	f.Set(time.Unix(sec, 0))
}
