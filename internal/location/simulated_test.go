package location

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/model"
)

func TestSimulatedDeliversFixOnStart(t *testing.T) {
	clk := clock.NewAutoAdvance(time.Unix(0, 0))
	sig := orchestrator.NewSignal()
	src := &Simulated{
		Position: model.Position{Latitude: 41.3874, Longitude: 2.1686, Valid: true, FixCount: 8},
		Fix:      sig,
		Clock:    clk,
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop(context.Background())

	fired, err := sig.Await(context.Background(), clk, time.Minute)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !fired {
		t.Fatal("no fix delivered at start")
	}
	if got := src.Latest(); !got.Valid || got.Latitude != 41.3874 {
		t.Fatalf("Latest = %+v, want the scripted position", got)
	}
}

func TestSimulatedStopEndsDelivery(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sig := orchestrator.NewSignal()
	src := &Simulated{
		Position: model.Position{Valid: true},
		Fix:      sig,
		Clock:    clk,
		Interval: time.Minute,
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
