package ephemeris

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	testLine1 = "1 60550U 24149CL 25071.82076637 .00007488 00000+0 68187-3 0 9999"
	testLine2 = "2 60550 97.7148 150.0635 0007556 170.3117 189.8251 14.95428546 31058"
)

type failingSource struct{}

func (failingSource) FetchTLE(context.Context, int) (Record, error) {
	return Record{}, errors.New("unreachable")
}

func fourSlots() []Record {
	return []Record{
		{Name: "SATELIOT_1", Line1: testLine1, Line2: testLine2},
		{Name: "SATELIOT_2"},
		{Name: "SATELIOT_3"},
		{Name: "SATELIOT_4"},
	}
}

func TestNewStoreValidatesProvisionedElements(t *testing.T) {
	s := NewStore(fourSlots(), 24*time.Hour, nil)

	rec, ok := s.Get(0)
	if !ok || !rec.Valid {
		t.Fatalf("slot 0 = (%v, %v), want a valid record", rec, ok)
	}
	rec, ok = s.Get(1)
	if !ok || rec.Valid {
		t.Fatalf("slot 1 = (%v, %v), want an invalid record", rec, ok)
	}
	if _, ok := s.Get(7); ok {
		t.Fatal("Get(7) reported a record for a slot that does not exist")
	}
}

func TestIsStaleAfterInterval(t *testing.T) {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	src := &StaticSource{Records: fourSlots()}
	s := NewStore(fourSlots(), 24*time.Hour, src)

	if _, err := s.Refresh(context.Background(), start); err != nil {
		t.Fatalf("Refresh() = %v, want nil", err)
	}
	if s.IsStale(start.Add(23 * time.Hour)) {
		t.Fatal("store stale at T+23h with a 24h interval")
	}
	if !s.IsStale(start.Add(25 * time.Hour)) {
		t.Fatal("store not stale at T+25h with a 24h interval")
	}
}

func TestForceUpdateClearedOncePerSuccess(t *testing.T) {
	start := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	src := &StaticSource{Records: fourSlots()}
	s := NewStore(fourSlots(), 24*time.Hour, src)

	s.ForceUpdate()
	if !s.IsStale(start) {
		t.Fatal("forced store did not report stale")
	}
	if _, err := s.Refresh(context.Background(), start); err != nil {
		t.Fatalf("Refresh() = %v, want nil", err)
	}
	if s.Freshness().Force {
		t.Fatal("force flag survived a successful refresh")
	}
	if s.IsStale(start.Add(time.Hour)) {
		t.Fatal("store stale one hour after a refresh")
	}
}

func TestRefreshBacksOffAfterThreshold(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	src := &StaticSource{Records: fourSlots()}
	s := NewStore(fourSlots(), 24*time.Hour, src)
	if _, err := s.Refresh(context.Background(), now); err != nil {
		t.Fatalf("seed Refresh() = %v", err)
	}

	s.source = failingSource{}
	for i := 0; i < FailureThreshold; i++ {
		if _, err := s.Refresh(context.Background(), now); err == nil {
			t.Fatal("Refresh() succeeded with a failing source")
		}
		if got := s.Freshness().Interval; got != 24*time.Hour {
			t.Fatalf("interval backed off at failure %d: %v", i+1, got)
		}
	}

	// Fourth failure exceeds the threshold: interval doubles.
	if _, err := s.Refresh(context.Background(), now); err == nil {
		t.Fatal("Refresh() succeeded with a failing source")
	}
	if got := s.Freshness().Interval; got != 48*time.Hour {
		t.Fatalf("interval after threshold = %v, want 48h", got)
	}

	// Doubling is capped at four times nominal.
	for i := 0; i < 10; i++ {
		_, _ = s.Refresh(context.Background(), now)
	}
	if got := s.Freshness().Interval; got != 96*time.Hour {
		t.Fatalf("interval cap = %v, want 96h", got)
	}

	// A clean refresh restores the nominal interval.
	s.source = src
	if _, err := s.Refresh(context.Background(), now); err != nil {
		t.Fatalf("Refresh() = %v, want nil after source recovery", err)
	}
	f := s.Freshness()
	if f.Interval != 24*time.Hour || f.ConsecutiveFailures != 0 {
		t.Fatalf("freshness after recovery = %+v, want nominal interval and zero failures", f)
	}
}

func TestRefreshCountsInvalidSlots(t *testing.T) {
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	src := &StaticSource{Records: fourSlots()}
	s := NewStore(fourSlots(), 24*time.Hour, src)

	summary, err := s.Refresh(context.Background(), now)
	if err != nil {
		t.Fatalf("Refresh() = %v, want nil", err)
	}
	if summary.Updated != 1 || summary.InvalidSlots != 3 {
		t.Fatalf("summary = %+v, want 1 updated and 3 invalid", summary)
	}
}

func TestRefreshWithoutSource(t *testing.T) {
	s := NewStore(fourSlots(), 24*time.Hour, nil)
	if _, err := s.Refresh(context.Background(), time.Now()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("Refresh() = %v, want ErrNoSource", err)
	}
}
