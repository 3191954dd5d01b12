// Package clock provides the time source used by the policy engine and the
// subscription scheduler. Window rollover and due-time checks are re-derived
// at call time from this source, never scheduled, so tests can drive both
// engines with a manual clock.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current instant.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock pinned at the given instant.
func NewManual(at time.Time) *Manual {
	return &Manual{now: at}
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the clock at the given instant.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	m.now = at
	m.mu.Unlock()
}
