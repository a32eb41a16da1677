// Package location provides location-source implementations beyond the
// modem's own GNSS: a scripted source for dry runs and tests.
package location

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/model"
)

// Simulated delivers a fixed position on a schedule, standing in for the
// GNSS receiver during dry runs.
type Simulated struct {
	Position model.Position
	Fix      *orchestrator.Signal
	Clock    clock.Clock

	// Interval between simulated fixes. Zero delivers a single fix at
	// start.
	Interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Start begins delivering fixes.
func (s *Simulated) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// The first fix is delivered synchronously so a latched raise is
	// guaranteed by the time Start returns.
	s.Fix.Raise()
	if s.Interval <= 0 {
		cancel()
		return nil
	}

	go func() {
		for {
			if err := s.Clock.Sleep(ctx, s.Interval); err != nil {
				return
			}
			s.Fix.Raise()
		}
	}()
	return nil
}

// Stop ends fix delivery.
func (s *Simulated) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Latest returns the scripted position.
func (s *Simulated) Latest() model.Position {
	return s.Position
}
