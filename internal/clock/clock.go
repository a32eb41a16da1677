// Package clock abstracts time so the orchestrator's bounded waits can be
// driven by wall-clock time in production and stepped deterministically in
// tests and dry runs.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock provides the current time and bounded waiting.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
	// Sleep blocks for d or until the context is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is a Clock backed by the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manual is a step-driven Clock. Time only moves when Advance is called,
// except in auto-advance mode where every wait completes immediately by
// advancing the clock itself. Auto-advance is what the dry-run harness
// uses to compress hours of idle time into instants.
type Manual struct {
	mu          sync.Mutex
	now         time.Time
	autoAdvance bool
	waiters     []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

// NewManual constructs a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// NewAutoAdvance constructs a manual clock whose waits complete
// immediately, advancing simulated time by the waited duration.
func NewAutoAdvance(start time.Time) *Manual {
	return &Manual{now: start, autoAdvance: true}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- m.now
		return ch
	}
	if m.autoAdvance {
		m.now = m.now.Add(d)
		m.fireDueLocked()
		ch <- m.now
		return ch
	}
	m.waiters = append(m.waiters, waiter{at: m.now.Add(d), ch: ch})
	return ch
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-m.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the clock forward and fires every waiter whose deadline
// has been reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fireDueLocked()
}

// SetTime jumps the clock to an absolute time.
func (m *Manual) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	m.fireDueLocked()
}

func (m *Manual) fireDueLocked() {
	sort.Slice(m.waiters, func(i, j int) bool { return m.waiters[i].at.Before(m.waiters[j].at) })
	remaining := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.at.After(m.now) {
			w.ch <- m.now
		} else {
			remaining = append(remaining, w)
		}
	}
	m.waiters = remaining
}
