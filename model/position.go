package model

// Position is the device's last known ground position. It is produced by
// the location collaborator and updated only by the orchestrator's
// fix-update step; every other component reads it as a value.
type Position struct {
	Latitude  float64 // degrees, north positive
	Longitude float64 // degrees, east positive
	Altitude  float64 // metres above the ellipsoid
	Valid     bool
	FixCount  uint // number of space vehicles used in the fix
}

// Zeroed returns a copy with the coordinate fields cleared. Used when a
// telemetry record must still be produced from an invalid position.
func (p Position) Zeroed() Position {
	return Position{Valid: false}
}
