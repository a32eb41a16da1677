// Package visibility predicts the next satellite pass for a ground
// position. When the ephemeris store holds valid orbital elements the
// predictor propagates them with SGP4; otherwise it falls back to the
// constellation's published service-window pattern.
package visibility

import (
	"errors"
	"math/rand"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/ntn-agent/internal/ephemeris"
	"github.com/signalsfoundry/ntn-agent/model"
)

// ErrNoData is returned when prediction is attempted without a valid
// ground position.
var ErrNoData = errors.New("visibility: ground position not valid")

// AllowedClockDrift is how far into the past a returned pass start may
// lie relative to the query time.
const AllowedClockDrift = time.Second

// Params bounds and shapes the prediction.
type Params struct {
	// Service windows for the heuristic fallback, hours in UTC.
	MorningWindowHour int
	EveningWindowHour int

	// Pass duration bounds. The latitude factor may stretch a heuristic
	// pass up to 1.5x MaxPassDuration.
	MinPassDuration time.Duration
	MaxPassDuration time.Duration

	// MinElevation is the lowest usable elevation for a propagated pass.
	MinElevation float64

	// Horizon caps how far ahead the propagated search looks.
	Horizon time.Duration

	// CoarseStep is the propagation scan step.
	CoarseStep time.Duration
}

// DefaultParams matches the Sateliot SIC-4 service profile.
func DefaultParams() Params {
	return Params{
		MorningWindowHour: 10,
		EveningWindowHour: 21,
		MinPassDuration:   30 * time.Second,
		MaxPassDuration:   8 * time.Minute,
		MinElevation:      10,
		Horizon:           26 * time.Hour,
		CoarseStep:        30 * time.Second,
	}
}

// Predictor computes the next pass from the ephemeris store.
type Predictor struct {
	Store  *ephemeris.Store
	Params Params

	// Rand drives the heuristic pass shaping. Nil uses a time-seeded
	// source.
	Rand *rand.Rand
}

// NewPredictor builds a predictor over the given store.
func NewPredictor(store *ephemeris.Store, params Params) *Predictor {
	return &Predictor{Store: store, Params: params}
}

// NextPass returns the next visibility window after now for the given
// ground position. Positions without a valid fix yield ErrNoData before
// any time computation happens.
func (p *Predictor) NextPass(now time.Time, pos model.Position) (model.SatellitePass, error) {
	if !pos.Valid {
		return model.SatellitePass{}, ErrNoData
	}

	if pass, ok := p.propagatedPass(now, pos); ok {
		return pass, nil
	}
	return p.heuristicPass(now, pos), nil
}

// propagatedPass runs an SGP4 elevation scan over every valid slot and
// returns the earliest window found.
func (p *Predictor) propagatedPass(now time.Time, pos model.Position) (model.SatellitePass, bool) {
	observer := groundECEF(pos.Latitude, pos.Longitude, pos.Altitude)

	best := model.SatellitePass{}
	found := false
	for _, rec := range p.Store.Records() {
		if !rec.Valid {
			continue
		}
		pass, ok := p.scanSatellite(rec, now, observer)
		if !ok {
			continue
		}
		if !found || pass.Start.Before(best.Start) {
			best = pass
			found = true
		}
	}
	return best, found
}

// scanSatellite steps through the horizon looking for the first interval
// where the satellite rises above the minimum elevation.
func (p *Predictor) scanSatellite(rec ephemeris.Record, now time.Time, observer Vec3) (model.SatellitePass, bool) {
	sat := satellite.TLEToSat(rec.Line1, rec.Line2, satellite.GravityWGS72)

	step := p.Params.CoarseStep
	if step <= 0 {
		step = 30 * time.Second
	}
	end := now.Add(p.Params.Horizon)

	var (
		inPass  bool
		start   time.Time
		maxElev float64
	)
	for t := now; t.Before(end); t = t.Add(step) {
		elev := satelliteElevation(sat, observer, t)
		switch {
		case elev >= p.Params.MinElevation && !inPass:
			inPass = true
			start = t
			maxElev = elev
		case elev >= p.Params.MinElevation:
			if elev > maxElev {
				maxElev = elev
			}
		case inPass:
			return p.boundedPass(start, t, maxElev, rec.SatelliteID, now), true
		}
	}
	if inPass {
		return p.boundedPass(start, end, maxElev, rec.SatelliteID, now), true
	}
	return model.SatellitePass{}, false
}

// boundedPass clamps a raw scan interval to the configured duration
// bounds and keeps the start out of the past.
func (p *Predictor) boundedPass(start, end time.Time, maxElev float64, satID int, now time.Time) model.SatellitePass {
	if start.Before(now.Add(-AllowedClockDrift)) {
		start = now
	}
	dur := end.Sub(start)
	if dur < p.Params.MinPassDuration {
		dur = p.Params.MinPassDuration
	}
	if dur > p.Params.MaxPassDuration {
		dur = p.Params.MaxPassDuration
	}
	return model.SatellitePass{
		Start:        start,
		End:          start.Add(dur),
		MaxElevation: maxElev,
		SatelliteID:  satID,
		Predicted:    false,
	}
}

// satelliteElevation propagates the satellite to t and measures its
// elevation from the observer.
func satelliteElevation(sat satellite.Satellite, observer Vec3, t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	return elevationDegrees(observer, Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z})
}

// heuristicPass derives the next service window from the daily bi-modal
// pattern, broadened by latitude.
func (p *Predictor) heuristicPass(now time.Time, pos model.Position) model.SatellitePass {
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}

	start := p.nextServiceWindow(now)

	// Higher absolute latitude sees the polar constellation more often
	// and for longer; the factor is linear in |lat| and capped at 1.5.
	latFactor := 1.0 + (absFloat(pos.Latitude)/90.0)*0.5
	if latFactor > 1.5 {
		latFactor = 1.5
	}

	spread := p.Params.MaxPassDuration - p.Params.MinPassDuration
	dur := p.Params.MinPassDuration
	if spread > 0 {
		dur += time.Duration(rng.Int63n(int64(spread)))
	}
	dur = time.Duration(float64(dur) * latFactor)
	if maxDur := time.Duration(float64(p.Params.MaxPassDuration) * 1.5); dur > maxDur {
		dur = maxDur
	}

	constellation := p.Store.Size()
	if constellation == 0 {
		constellation = 1
	}

	return model.SatellitePass{
		Start:        start,
		End:          start.Add(dur),
		MaxElevation: float64(30 + rng.Intn(56)),
		SatelliteID:  rng.Intn(constellation),
		Predicted:    true,
	}
}

// nextServiceWindow returns the start of the next daily window strictly
// after now.
func (p *Predictor) nextServiceWindow(now time.Time) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	morning := day.Add(time.Duration(p.Params.MorningWindowHour) * time.Hour)
	evening := day.Add(time.Duration(p.Params.EveningWindowHour) * time.Hour)

	switch {
	case now.Before(morning):
		return morning
	case now.Before(evening):
		return evening
	default:
		return morning.Add(24 * time.Hour)
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
