package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/ntn-agent/model"
)

// Error kinds shared with collaborator implementations.
var (
	// ErrConfigurationFailure means a collaborator rejected a setup
	// command. It is the only error class that escalates into recovery.
	ErrConfigurationFailure = errors.New("configuration failure")
	// ErrOpenChannel marks a transport failure to open the datagram
	// channel, as opposed to a failed send on an open channel.
	ErrOpenChannel = errors.New("transport channel open failed")
	// ErrIoFailure means the transport retry budget was exhausted. The
	// orchestrator logs it and proceeds to idle.
	ErrIoFailure = errors.New("transport retries exhausted")
)

// LocationSource delivers position fixes. Implementations raise the
// orchestrator's fix signal whenever a valid fix arrives and keep the
// latest position readable.
type LocationSource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Latest() model.Position
}

// AttachClient sequences network registration with the modem. Connect is
// asynchronous: the registration outcome is observed only through the
// orchestrator's registration signal within a bounded wait.
type AttachClient interface {
	// Configure programs the radio for the target network, seeding the
	// position hint when valid.
	Configure(ctx context.Context, hint model.Position) error
	// Connect requests network registration.
	Connect(ctx context.Context) error
	// Disconnect releases the link.
	Disconnect(ctx context.Context) error
	// HardReset forces the radio through a full functional reset.
	HardReset(ctx context.Context) error
}

// Transport delivers one telemetry payload. Failures to open the channel
// are wrapped with ErrOpenChannel so the retry policy can distinguish
// them from send failures.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// Watchdog is fed once per loop iteration regardless of state.
type Watchdog interface {
	Feed() error
}

// PassPredictor computes the next visibility window. The SGP4-backed
// predictor is the default; a deterministic propagator can be substituted
// without touching the orchestrator.
type PassPredictor interface {
	NextPass(now time.Time, pos model.Position) (model.SatellitePass, error)
}
