// Package clock provides the time source and one-shot scheduler that the
// typing and presence components run on, so tests can drive them with a
// manual clock instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled callback. Calling it more than once, or after
// the callback already ran, is a no-op.
type CancelFunc func()

// Clock reports the current time and schedules one-shot callbacks.
type Clock interface {
	Now() time.Time
	ScheduleAfter(d time.Duration, fn func()) CancelFunc
}

// Real is the wall clock backed by time.AfterFunc.
type Real struct{}

// New returns the wall clock.
func New() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) ScheduleAfter(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	var once sync.Once
	return func() {
		once.Do(func() { t.Stop() })
	}
}
