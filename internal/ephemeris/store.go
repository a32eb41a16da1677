// Package ephemeris keeps the per-satellite orbital elements used for
// visibility prediction, together with their freshness bookkeeping. The
// store never performs network I/O itself; fetching fresh elements is the
// job of an injected Source.
package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FailureThreshold is the number of consecutive failed refreshes after
// which the refresh interval starts backing off.
const FailureThreshold = 3

// ErrNoSource is returned by Refresh when no element source is configured.
var ErrNoSource = errors.New("ephemeris: no element source configured")

// Record holds the TLE orbital elements for one constellation slot.
type Record struct {
	SatelliteID int
	Name        string
	Line1       string
	Line2       string
	Epoch       time.Time
	Valid       bool
}

// Freshness tracks when elements were last updated and how eagerly the
// next update should happen.
type Freshness struct {
	LastUpdate          time.Time
	Interval            time.Duration
	ConsecutiveFailures uint
	Force               bool
}

// UpdateSummary reports the outcome of one refresh cycle.
type UpdateSummary struct {
	Updated      int
	InvalidSlots int
}

// Source retrieves current elements for a constellation slot.
type Source interface {
	FetchTLE(ctx context.Context, satelliteID int) (Record, error)
}

// Store is the authoritative holder of constellation elements. All writes
// go through Refresh, which the orchestrator calls synchronously.
type Store struct {
	mu        sync.RWMutex
	records   []Record
	freshness Freshness
	nominal   time.Duration
	source    Source
}

// NewStore builds a store with one fixed slot per constellation member.
// Records with parseable elements are marked valid immediately so the
// predictor can use compiled-in TLEs before the first refresh.
func NewStore(records []Record, nominalInterval time.Duration, source Source) *Store {
	slots := make([]Record, len(records))
	for i, r := range records {
		r.SatelliteID = i
		r.Valid = validElements(r)
		slots[i] = r
	}
	return &Store{
		records: slots,
		freshness: Freshness{
			Interval: nominalInterval,
		},
		nominal: nominalInterval,
		source:  source,
	}
}

// Get returns the record for a slot, reporting whether the slot exists.
func (s *Store) Get(id int) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 0 || id >= len(s.records) {
		return Record{}, false
	}
	return s.records[id], true
}

// Records returns a copy of every slot.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Size returns the number of constellation slots.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Freshness returns a snapshot of the freshness bookkeeping.
func (s *Store) Freshness() Freshness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freshness
}

// ForceUpdate flags the store so the next staleness check demands a
// refresh regardless of age.
func (s *Store) ForceUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freshness.Force = true
}

// IsStale reports whether the elements are due for a refresh at the given
// time. A never-updated store is always stale.
func (s *Store) IsStale(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.freshness.Force {
		return true
	}
	if s.freshness.LastUpdate.IsZero() {
		return true
	}
	return now.Sub(s.freshness.LastUpdate) > s.freshness.Interval
}

// Refresh revalidates every slot from the source and updates the
// freshness bookkeeping. A cycle that refreshes no slot at all counts as
// a failure and backs the interval off once the failure threshold is
// exceeded; any cycle that refreshes at least one slot resets the
// interval to nominal and clears the force flag.
func (s *Store) Refresh(ctx context.Context, now time.Time) (UpdateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		s.recordFailureLocked()
		return UpdateSummary{}, ErrNoSource
	}

	var summary UpdateSummary
	for i := range s.records {
		rec, err := s.source.FetchTLE(ctx, i)
		if err != nil {
			s.records[i].Valid = false
			summary.InvalidSlots++
			continue
		}
		rec.SatelliteID = i
		if rec.Name == "" {
			rec.Name = s.records[i].Name
		}
		rec.Valid = validElements(rec)
		s.records[i] = rec
		if rec.Valid {
			summary.Updated++
		} else {
			summary.InvalidSlots++
		}
	}

	if summary.Updated == 0 {
		s.recordFailureLocked()
		return summary, fmt.Errorf("ephemeris: refresh updated no slots (%d invalid)", summary.InvalidSlots)
	}

	s.freshness.LastUpdate = now
	s.freshness.Interval = s.nominal
	s.freshness.ConsecutiveFailures = 0
	s.freshness.Force = false
	return summary, nil
}

func (s *Store) recordFailureLocked() {
	s.freshness.ConsecutiveFailures++
	if s.freshness.ConsecutiveFailures > FailureThreshold {
		doubled := s.freshness.Interval * 2
		limit := s.nominal * 4
		if doubled > limit {
			doubled = limit
		}
		s.freshness.Interval = doubled
	}
}

// validElements applies the structural TLE checks: both lines present,
// standard 69-column format, correct line numbers.
func validElements(r Record) bool {
	return validLine(r.Line1, '1') && validLine(r.Line2, '2')
}

func validLine(line string, number byte) bool {
	line = strings.TrimRight(line, " ")
	if len(line) < 60 {
		return false
	}
	return line[0] == number && line[1] == ' '
}

// StaticSource serves a fixed element set, matching the original
// deployment where TLEs ship with the device configuration.
type StaticSource struct {
	Records []Record
}

// FetchTLE returns the configured record for the slot.
func (s *StaticSource) FetchTLE(_ context.Context, satelliteID int) (Record, error) {
	if satelliteID < 0 || satelliteID >= len(s.Records) {
		return Record{}, fmt.Errorf("ephemeris: no elements for satellite %d", satelliteID)
	}
	rec := s.Records[satelliteID]
	if rec.Line1 == "" || rec.Line2 == "" {
		return Record{}, fmt.Errorf("ephemeris: elements for satellite %d not provisioned", satelliteID)
	}
	return rec, nil
}
