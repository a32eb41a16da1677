// Package telemetry renders the device's position/status record into a
// bounded payload buffer. The wire format is a single line with fixed
// field order and precision; downstream parsers depend on it byte for
// byte.
package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/ntn-agent/model"
)

// Buffer sizing. MinCapacity plus SafetyMargin is the smallest buffer the
// encoder will write into; SanityFloor is the shortest output a healthy
// encode can produce.
const (
	MinCapacity  = 96
	SafetyMargin = 32
	SanityFloor  = 60
)

var (
	// ErrBufferTooSmall means the buffer cannot hold a worst-case record.
	ErrBufferTooSmall = errors.New("telemetry: buffer smaller than minimum plus safety margin")
	// ErrEncodingOverflow means the rendered record would not fit.
	ErrEncodingOverflow = errors.New("telemetry: rendered record exceeds buffer capacity")
	// ErrSuspiciouslyShort means the rendered record is shorter than any
	// valid record can be, indicating corruption upstream.
	ErrSuspiciouslyShort = errors.New("telemetry: rendered record below sanity floor")
)

// Encoder renders telemetry records tagged with the network identifier.
type Encoder struct {
	NetworkTag string
}

// NewEncoder returns an encoder for the given network tag, defaulting to
// "sateliot".
func NewEncoder(tag string) *Encoder {
	if tag == "" {
		tag = "sateliot"
	}
	return &Encoder{NetworkTag: tag}
}

// Encode writes the record for pos into buf and returns the number of
// bytes written. An invalid position produces a record with zeroed
// coordinate fields rather than an error, so a best-effort send can still
// happen. On any error nothing is written.
func (e *Encoder) Encode(buf []byte, uptime time.Duration, pos model.Position) (int, error) {
	if len(buf) < MinCapacity+SafetyMargin {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrBufferTooSmall, len(buf), MinCapacity+SafetyMargin)
	}

	lat, lon, alt := pos.Latitude, pos.Longitude, pos.Altitude
	sats := pos.FixCount
	if !pos.Valid {
		lat, lon, alt = 0, 0, 0
		sats = 0
	}

	record := fmt.Sprintf(
		`{"ts":%d,"lat":%.6f,"lon":%.6f,"alt":%.1f,"sats":%d,"ntn":%q}`,
		uptime.Milliseconds(), lat, lon, alt, sats, e.NetworkTag,
	)

	if len(record) >= len(buf) {
		return 0, fmt.Errorf("%w: rendered %d into %d", ErrEncodingOverflow, len(record), len(buf))
	}
	if len(record) < SanityFloor {
		return 0, fmt.Errorf("%w: rendered %d, floor %d", ErrSuspiciouslyShort, len(record), SanityFloor)
	}

	copy(buf, record)
	return len(record), nil
}
