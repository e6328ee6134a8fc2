// Package clock provides the time source used by the trip and visit engines.
package clock

import (
	"errors"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by time.Now.
func System() Clock { return systemClock{} }

// Fake is a settable clock for tests and replays.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// ErrUnavailable is returned when the clock cannot produce a usable time.
var ErrUnavailable = errors.New("clock unavailable")

// Read returns c.Now(), rejecting the zero time.
func Read(c Clock) (time.Time, error) {
	if c == nil {
		return time.Time{}, ErrUnavailable
	}
	now := c.Now()
	if now.IsZero() {
		return time.Time{}, ErrUnavailable
	}
	return now, nil
}
