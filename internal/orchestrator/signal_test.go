package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
)

func TestSignalLatchesRaiseBeforeAwait(t *testing.T) {
	clk := clock.NewAutoAdvance(time.Unix(0, 0))
	sig := NewSignal()
	sig.Raise()

	fired, err := sig.Await(context.Background(), clk, time.Minute)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !fired {
		t.Fatalf("Await = false, want latched raise to fire")
	}
}

func TestSignalAwaitConsumesLatch(t *testing.T) {
	clk := clock.NewAutoAdvance(time.Unix(0, 0))
	sig := NewSignal()
	sig.Raise()

	if fired, _ := sig.Await(context.Background(), clk, time.Minute); !fired {
		t.Fatalf("first Await = false, want true")
	}
	if fired, _ := sig.Await(context.Background(), clk, time.Minute); fired {
		t.Fatalf("second Await = true, want timeout after latch consumed")
	}
}

func TestSignalRaiseIsIdempotent(t *testing.T) {
	clk := clock.NewAutoAdvance(time.Unix(0, 0))
	sig := NewSignal()
	sig.Raise()
	sig.Raise()
	sig.Raise()

	if fired, _ := sig.Await(context.Background(), clk, time.Minute); !fired {
		t.Fatalf("first Await = false, want true")
	}
	if fired, _ := sig.Await(context.Background(), clk, time.Minute); fired {
		t.Fatalf("repeated raises latched more than once")
	}
}

func TestSignalResetDiscardsLatch(t *testing.T) {
	clk := clock.NewAutoAdvance(time.Unix(0, 0))
	sig := NewSignal()
	sig.Raise()
	sig.Reset()

	if fired, _ := sig.Await(context.Background(), clk, time.Minute); fired {
		t.Fatalf("Await = true after Reset, want timeout")
	}
}

func TestSignalAwaitTimesOutOnClock(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := clock.NewAutoAdvance(start)
	sig := NewSignal()

	fired, err := sig.Await(context.Background(), clk, 30*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if fired {
		t.Fatalf("Await = true, want timeout")
	}
	if got, want := clk.Now(), start.Add(30*time.Second); !got.Equal(want) {
		t.Fatalf("clock after timeout = %v, want %v", got, want)
	}
}

func TestSignalAwaitHonoursContextCancel(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	sig := NewSignal()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sig.Await(ctx, clk, time.Minute); err == nil {
		t.Fatalf("Await with cancelled context returned nil error")
	}
}
