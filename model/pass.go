package model

import "time"

// SatellitePass is one predicted visibility window for a constellation
// member as seen from a ground position. Passes are recomputed every
// cycle and never persisted.
type SatellitePass struct {
	Start        time.Time
	End          time.Time
	MaxElevation float64 // degrees above the horizon
	SatelliteID  int
	Predicted    bool // heuristic prediction rather than propagated geometry
}

// Duration returns the length of the window.
func (p SatellitePass) Duration() time.Duration {
	return p.End.Sub(p.Start)
}
