package clock

import (
	"context"
	"testing"
	"time"
)

func TestManualAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	ch := m.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired before the clock advanced")
	default:
	}

	m.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("waiter fired one second early")
	default:
	}

	m.Advance(time.Second)
	select {
	case got := <-ch:
		want := start.Add(10 * time.Second)
		if !got.Equal(want) {
			t.Fatalf("After delivered %v, want %v", got, want)
		}
	default:
		t.Fatal("waiter did not fire at its deadline")
	}
}

func TestAutoAdvanceSleepDoesNotBlock(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	m := NewAutoAdvance(start)

	if err := m.Sleep(context.Background(), 30*time.Minute); err != nil {
		t.Fatalf("Sleep returned %v", err)
	}
	if got, want := m.Now(), start.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestManualSleepHonoursCancellation(t *testing.T) {
	m := NewManual(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Sleep(ctx, time.Hour); err == nil {
		t.Fatal("Sleep returned nil for a cancelled context")
	}
}

func TestRealSleepZeroDuration(t *testing.T) {
	if err := (Real{}).Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) returned %v", err)
	}
}
