// Package recovery chooses an escalating corrective action after
// consecutive connectivity failures. Level one is cheap and usually
// enough for transient faults; each further level is more invasive.
package recovery

import (
	"context"
	"errors"
	"time"
)

// ErrCapped is returned when the attempt counter exceeds the configured
// maximum. It is not fatal: the caller idles and the counter starts over.
var ErrCapped = errors.New("recovery: escalation attempts capped")

// Level identifies how invasive the chosen action was.
type Level uint

const (
	// LevelNone means no action was taken.
	LevelNone Level = iota
	// LevelLinkTeardown releases the link and pauses briefly.
	LevelLinkTeardown
	// LevelClientReset hard-resets the attach client and reconfigures it.
	LevelClientReset
	// LevelConfigReset wipes persisted configuration and reconfigures.
	LevelConfigReset
)

func (l Level) String() string {
	switch l {
	case LevelLinkTeardown:
		return "link-teardown"
	case LevelClientReset:
		return "client-reset"
	case LevelConfigReset:
		return "config-reset"
	default:
		return "none"
	}
}

// Actions is the capability surface the escalator drives. Implementations
// wrap the attach client and the persisted device configuration.
type Actions interface {
	ReleaseLink(ctx context.Context) error
	ResetAttachClient(ctx context.Context) error
	ResetConfiguration(ctx context.Context) error
	Reconfigure(ctx context.Context) error
}

// Outcome reports the action taken and how long the caller should pause
// before resuming.
type Outcome struct {
	Level    Level
	Attempts uint
	Pause    time.Duration
}

// Escalator tracks consecutive failures and runs the matching corrective
// action. The orchestrator is its only caller, so no locking is needed.
type Escalator struct {
	MaxAttempts uint
	ShortPause  time.Duration
	LongPause   time.Duration

	actions  Actions
	attempts uint
}

// NewEscalator builds an escalator over the given actions. maxAttempts of
// zero falls back to 3.
func NewEscalator(maxAttempts uint, actions Actions) *Escalator {
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &Escalator{
		MaxAttempts: maxAttempts,
		ShortPause:  10 * time.Second,
		LongPause:   30 * time.Second,
		actions:     actions,
	}
}

// Attempts returns the current consecutive-failure count.
func (e *Escalator) Attempts() uint { return e.attempts }

// Reset clears the attempt counter. Called on any successful network
// registration, regardless of which escalation level last ran.
func (e *Escalator) Reset() { e.attempts = 0 }

// Recover runs the next escalation level. Exceeding the maximum resets
// the counter and reports ErrCapped; an action failure leaves the counter
// as-is so the next invocation escalates further.
func (e *Escalator) Recover(ctx context.Context) (Outcome, error) {
	e.attempts++
	if e.attempts > e.MaxAttempts {
		e.attempts = 0
		return Outcome{Level: LevelNone}, ErrCapped
	}

	out := Outcome{Attempts: e.attempts}
	switch e.attempts {
	case 1:
		out.Level = LevelLinkTeardown
		out.Pause = e.ShortPause
		if err := e.actions.ReleaseLink(ctx); err != nil {
			return out, err
		}
	case 2:
		out.Level = LevelClientReset
		out.Pause = e.LongPause
		if err := e.actions.ResetAttachClient(ctx); err != nil {
			return out, err
		}
		if err := e.actions.Reconfigure(ctx); err != nil {
			return out, err
		}
	default:
		out.Level = LevelConfigReset
		out.Pause = e.LongPause
		if err := e.actions.ResetConfiguration(ctx); err != nil {
			return out, err
		}
		if err := e.actions.Reconfigure(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}
