// Package orchestrator drives the connectivity state machine: location
// acquisition, two-phase network attachment, telemetry transmission,
// pass-aligned sleeping, ephemeris refresh, and failure recovery. Every
// wait is time-bounded so the watchdog can be serviced on each loop pass;
// the machine never halts, it recovers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/ntn-agent/internal/clock"
	"github.com/signalsfoundry/ntn-agent/internal/ephemeris"
	"github.com/signalsfoundry/ntn-agent/internal/logging"
	"github.com/signalsfoundry/ntn-agent/internal/recovery"
	"github.com/signalsfoundry/ntn-agent/internal/telemetry"
	"github.com/signalsfoundry/ntn-agent/model"
)

// Params bounds every wait in the machine.
type Params struct {
	FixTimeout        time.Duration
	Step1Timeout      time.Duration
	Step2Timeout      time.Duration
	FeederSettleDelay time.Duration
	MaxIdleSlice      time.Duration
	NoFixPollInterval time.Duration
	ErrorCooldown     time.Duration
	LoopPause         time.Duration
	MaxAttachCycles   int

	SendAttempts   int
	OpenRetryDelay time.Duration
	SendRetryDelay time.Duration

	PayloadBufferSize int
}

// DefaultParams matches the Sateliot latency profile the machine was
// tuned for.
func DefaultParams() Params {
	return Params{
		FixTimeout:        180 * time.Second,
		Step1Timeout:      5 * time.Minute,
		Step2Timeout:      15 * time.Minute,
		FeederSettleDelay: 30 * time.Second,
		MaxIdleSlice:      30 * time.Minute,
		NoFixPollInterval: 30 * time.Second,
		ErrorCooldown:     5 * time.Minute,
		LoopPause:         500 * time.Millisecond,
		MaxAttachCycles:   3,
		SendAttempts:      3,
		OpenRetryDelay:    10 * time.Second,
		SendRetryDelay:    15 * time.Second,
		PayloadBufferSize: 256,
	}
}

// Orchestrator owns the single authoritative ConnectivityState plus the
// Position snapshot and attach/recovery counters. It is the only writer
// of all of them; collaborators communicate through the two signals and
// through LocationSource.Latest.
type Orchestrator struct {
	params    Params
	clk       clock.Clock
	log       logging.Logger
	store     *ephemeris.Store
	predictor PassPredictor
	encoder   *telemetry.Encoder
	escalator *recovery.Escalator
	location  LocationSource
	attach    AttachClient
	transport Transport
	watchdog  Watchdog
	metrics   Metrics
	tracer    trace.Tracer

	fixSig *Signal
	regSig *Signal

	state        State
	lastGood     State
	position     model.Position
	attachCycles int
	cycle        uint64
	payload      []byte
	started      time.Time
}

// New wires the orchestrator. All collaborators are mandatory except
// metrics, which defaults to a noop.
func New(
	params Params,
	clk clock.Clock,
	log logging.Logger,
	store *ephemeris.Store,
	predictor PassPredictor,
	encoder *telemetry.Encoder,
	escalator *recovery.Escalator,
	location LocationSource,
	attach AttachClient,
	transport Transport,
	watchdog Watchdog,
	metrics Metrics,
) *Orchestrator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Orchestrator{
		params:    params,
		clk:       clk,
		log:       log,
		store:     store,
		predictor: predictor,
		encoder:   encoder,
		escalator: escalator,
		location:  location,
		attach:    attach,
		transport: transport,
		watchdog:  watchdog,
		metrics:   metrics,
		tracer:    otel.Tracer("ntn-agent/orchestrator"),
		fixSig:    NewSignal(),
		regSig:    NewSignal(),
		state:     StateInit,
		lastGood:  StateIdle,
		payload:   make([]byte, params.PayloadBufferSize),
	}
}

// FixSignal is raised by the location collaborator on a valid fix.
func (o *Orchestrator) FixSignal() *Signal { return o.fixSig }

// RegistrationSignal is raised by the attach client on network
// registration.
func (o *Orchestrator) RegistrationSignal() *Signal { return o.regSig }

// BindSignals replaces the orchestrator's signals with externally owned
// ones, so a collaborator constructed before the orchestrator can share
// them. Call before Run.
func (o *Orchestrator) BindSignals(fix, reg *Signal) {
	if fix != nil {
		o.fixSig = fix
	}
	if reg != nil {
		o.regSig = reg
	}
}

// State returns the current phase.
func (o *Orchestrator) State() State { return o.state }

// Position returns the orchestrator's position snapshot.
func (o *Orchestrator) Position() model.Position { return o.position }

// Run drives the machine until the context is cancelled. The watchdog is
// fed exactly once per loop pass, in every state.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.started = o.clk.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.watchdog.Feed(); err != nil {
			o.log.Warn(ctx, "watchdog feed failed", logging.Err(err))
		}
		if err := o.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// No other error escapes a step; log and keep looping.
			o.log.Error(ctx, "unexpected step error", logging.Err(err))
		}
		if err := o.clk.Sleep(ctx, o.params.LoopPause); err != nil {
			return err
		}
	}
}

// Step executes exactly one state and performs its transition. Exposed so
// tests and the dry-run harness can single-step the machine.
func (o *Orchestrator) Step(ctx context.Context) error {
	stepCtx, span := o.tracer.Start(ctx, "orchestrator."+o.state.String(),
		trace.WithAttributes(attribute.String("state", o.state.String())))
	defer span.End()

	switch o.state {
	case StateInit:
		return o.stepInit(stepCtx)
	case StateIdle:
		return o.stepIdle(stepCtx)
	case StateRefreshingEphemeris:
		return o.stepRefreshEphemeris(stepCtx)
	case StateAcquiringFix:
		return o.stepAcquireFix(stepCtx)
	case StateAttachStep1:
		return o.stepAttach1(stepCtx)
	case StateAttachStep2:
		return o.stepAttach2(stepCtx)
	case StateSendingData:
		return o.stepSend(stepCtx)
	case StateError:
		return o.stepError(stepCtx)
	case StateRecovering:
		return o.stepRecover(stepCtx)
	default:
		o.setState(stepCtx, StateIdle)
		return nil
	}
}

// setState performs the transition, logging it and maintaining
// last_good_state so recovery always has a sane fallback target.
func (o *Orchestrator) setState(ctx context.Context, next State) {
	if next == o.state {
		return
	}
	if o.state != StateError && o.state != StateRecovering {
		o.lastGood = o.state
	}
	o.log.Info(ctx, "state transition",
		logging.String("from", o.state.String()),
		logging.String("to", next.String()))
	o.metrics.RecordTransition(o.state, next)
	o.state = next
	o.metrics.SetState(next)
}

func (o *Orchestrator) stepInit(ctx context.Context) error {
	if err := o.location.Start(ctx); err != nil {
		o.log.Error(ctx, "location source failed to start", logging.Err(err))
		o.setState(ctx, StateError)
		return nil
	}
	o.setState(ctx, StateIdle)
	return nil
}

func (o *Orchestrator) stepIdle(ctx context.Context) error {
	o.cycle++
	ctx, log := logging.WithCycleLogger(ctx, o.log, o.cycle)

	now := o.clk.Now()
	stale := o.store.IsStale(now)
	o.metrics.SetEphemerisStale(stale)
	if stale {
		o.setState(ctx, StateRefreshingEphemeris)
		return nil
	}

	if o.position.Valid {
		pass, err := o.predictor.NextPass(now, o.position)
		if err != nil {
			log.Warn(ctx, "pass prediction failed", logging.Err(err))
			if err := o.clk.Sleep(ctx, o.params.NoFixPollInterval); err != nil {
				return err
			}
		} else {
			wait := pass.Start.Sub(now)
			o.metrics.SetNextPassWait(wait.Seconds())
			if wait > 0 {
				// Bounded slice: the loop re-evaluates staleness and
				// position on every pass, and the watchdog stays fed.
				slice := wait
				if slice > o.params.MaxIdleSlice {
					slice = o.params.MaxIdleSlice
				}
				log.Info(ctx, "sleeping until next pass",
					logging.String("pass_start", pass.Start.Format(time.RFC3339)),
					logging.Int("satellite", pass.SatelliteID),
					logging.String("slice", slice.String()))
				if err := o.clk.Sleep(ctx, slice); err != nil {
					return err
				}
			}
		}
	} else {
		log.Warn(ctx, "position not valid, polling for fix")
		if err := o.clk.Sleep(ctx, o.params.NoFixPollInterval); err != nil {
			return err
		}
	}

	o.setState(ctx, StateAcquiringFix)
	return nil
}

func (o *Orchestrator) stepRefreshEphemeris(ctx context.Context) error {
	summary, err := o.store.Refresh(ctx, o.clk.Now())
	if err != nil {
		o.log.Warn(ctx, "ephemeris refresh failed", logging.Err(err))
	} else {
		o.log.Info(ctx, "ephemeris refreshed",
			logging.Int("updated", summary.Updated),
			logging.Int("invalid", summary.InvalidSlots))
	}
	// Outcome does not gate progress: prediction falls back to the
	// heuristic when elements stay invalid.
	o.setState(ctx, StateAcquiringFix)
	return nil
}

func (o *Orchestrator) stepAcquireFix(ctx context.Context) error {
	// A fix delivered before the wait begins is latched and still counts.
	fixed, err := o.fixSig.Await(ctx, o.clk, o.params.FixTimeout)
	if err != nil {
		return err
	}

	if fixed {
		o.position = o.location.Latest()
		o.log.Info(ctx, "fix acquired",
			logging.Float("lat", o.position.Latitude),
			logging.Float("lon", o.position.Longitude),
			logging.Int("sats", int(o.position.FixCount)))
	} else if !o.position.Valid {
		o.log.Warn(ctx, "no fix and no previous position, backing off")
		o.setState(ctx, StateIdle)
		return nil
	} else {
		o.log.Warn(ctx, "fix timeout, continuing with last known position")
	}

	o.attachCycles = 0
	o.setState(ctx, StateAttachStep1)
	return nil
}

func (o *Orchestrator) stepAttach1(ctx context.Context) error {
	if err := o.attach.Configure(ctx, o.position); err != nil {
		o.log.Error(ctx, "attach configuration rejected", logging.Err(err))
		o.setState(ctx, StateError)
		return nil
	}

	if err := o.attach.Connect(ctx); err != nil {
		o.log.Error(ctx, "connect request failed", logging.Err(err))
		o.setState(ctx, StateError)
		return nil
	}

	// Step 1 is defined to be rejected: the timeout is the expected
	// outcome and means the network has seen us.
	registered, err := o.regSig.Await(ctx, o.clk, o.params.Step1Timeout)
	if err != nil {
		return err
	}
	o.metrics.RecordAttach(1, registered)
	if registered {
		o.log.Info(ctx, "registered during step 1, unusual but valid")
		o.registrationSucceeded()
		o.setState(ctx, StateSendingData)
		return nil
	}
	o.log.Info(ctx, "step 1 complete, proceeding to step 2")
	o.setState(ctx, StateAttachStep2)
	return nil
}

func (o *Orchestrator) stepAttach2(ctx context.Context) error {
	// Give the feeder link time to process authentication from step 1.
	if err := o.clk.Sleep(ctx, o.params.FeederSettleDelay); err != nil {
		return err
	}

	if err := o.attach.Connect(ctx); err != nil {
		o.log.Error(ctx, "connect request failed", logging.Err(err))
		o.setState(ctx, StateError)
		return nil
	}

	registered, err := o.regSig.Await(ctx, o.clk, o.params.Step2Timeout)
	if err != nil {
		return err
	}
	o.metrics.RecordAttach(2, registered)
	if registered {
		o.registrationSucceeded()
		o.setState(ctx, StateSendingData)
		return nil
	}

	o.log.Warn(ctx, "step 2 timed out, releasing link")
	if err := o.attach.Disconnect(ctx); err != nil {
		o.log.Warn(ctx, "disconnect failed", logging.Err(err))
	}

	o.attachCycles++
	if o.attachCycles >= o.params.MaxAttachCycles {
		o.log.Warn(ctx, "attach cycle budget exhausted",
			logging.Int("cycles", o.attachCycles))
		o.setState(ctx, StateRecovering)
		return nil
	}
	o.setState(ctx, StateAttachStep1)
	return nil
}

func (o *Orchestrator) stepSend(ctx context.Context) error {
	uptime := o.clk.Now().Sub(o.started)
	n, err := o.encoder.Encode(o.payload, uptime, o.position)
	if err != nil {
		// Encoding failures are local: log, skip the send, idle.
		o.log.Error(ctx, "telemetry encode failed", logging.Err(err))
		o.metrics.RecordSend(0, false)
	} else {
		if err := o.sendWithRetry(ctx, o.payload[:n]); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			o.log.Error(ctx, "telemetry send failed", logging.Err(err))
			o.metrics.RecordSend(n, false)
		} else {
			o.log.Info(ctx, "telemetry sent", logging.Int("bytes", n))
			o.metrics.RecordSend(n, true)
		}
	}

	if err := o.attach.Disconnect(ctx); err != nil {
		o.log.Warn(ctx, "disconnect failed", logging.Err(err))
	}
	o.log.Info(ctx, "connectivity cycle complete")
	o.setState(ctx, StateIdle)
	return nil
}

// sendWithRetry wraps the transport with the bounded retry policy: a
// fixed attempt cap and a longer pause after send failures than after
// channel-open failures, reflecting expected link latency.
func (o *Orchestrator) sendWithRetry(ctx context.Context, payload []byte) error {
	var lastErr error
	for attempt := 1; attempt <= o.params.SendAttempts; attempt++ {
		err := o.transport.Send(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		o.metrics.RecordSendRetry()
		o.log.Warn(ctx, "send attempt failed",
			logging.Int("attempt", attempt),
			logging.Int("max", o.params.SendAttempts),
			logging.Err(err))

		if attempt == o.params.SendAttempts {
			break
		}
		delay := o.params.SendRetryDelay
		if errors.Is(err, ErrOpenChannel) {
			delay = o.params.OpenRetryDelay
		}
		if err := o.clk.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrIoFailure, o.params.SendAttempts, lastErr)
}

func (o *Orchestrator) stepError(ctx context.Context) error {
	o.log.Error(ctx, "entered error state, escalating",
		logging.String("last_good", o.lastGood.String()))
	o.setState(ctx, StateRecovering)
	return nil
}

func (o *Orchestrator) stepRecover(ctx context.Context) error {
	out, err := o.escalator.Recover(ctx)
	switch {
	case errors.Is(err, recovery.ErrCapped):
		o.log.Error(ctx, "recovery capped, idling")
		if err := o.clk.Sleep(ctx, o.params.ErrorCooldown); err != nil {
			return err
		}
		o.setState(ctx, StateIdle)
	case err != nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		o.log.Error(ctx, "recovery action failed", logging.Err(err),
			logging.String("level", out.Level.String()))
		if err := o.clk.Sleep(ctx, o.params.ErrorCooldown); err != nil {
			return err
		}
		o.setState(ctx, StateIdle)
	default:
		o.metrics.RecordRecovery(out.Level)
		o.log.Info(ctx, "recovery action complete",
			logging.String("level", out.Level.String()),
			logging.String("resume", o.lastGood.String()))
		if err := o.clk.Sleep(ctx, out.Pause); err != nil {
			return err
		}
		o.setState(ctx, o.lastGood)
	}
	return nil
}

// registrationSucceeded resets every failure counter. A successful
// registration anywhere in the machine clears escalation state
// immediately, independent of which level last ran.
func (o *Orchestrator) registrationSucceeded() {
	o.attachCycles = 0
	o.escalator.Reset()
}
