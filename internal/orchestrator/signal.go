package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
)

// Signal is a one-shot, resettable notification. Collaborators raise it
// from their delivery goroutines; the orchestrator blocks on it with a
// bounded timeout. A raise before the wait begins is latched, matching
// semaphore semantics; Await consumes the latch.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal returns a lowered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise latches the signal. Raising an already-raised signal is a no-op.
func (s *Signal) Raise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Reset lowers the signal, discarding any latched raise.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
	}
}

// Await blocks until the signal is raised, the timeout elapses on the
// given clock, or the context is cancelled. It reports whether the signal
// fired; a timeout is not an error.
func (s *Signal) Await(ctx context.Context, clk clock.Clock, timeout time.Duration) (bool, error) {
	// A latched raise wins over a simultaneously expired timer.
	select {
	case <-s.ch:
		return true, nil
	default:
	}
	select {
	case <-s.ch:
		return true, nil
	case <-clk.After(timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
