package orchestrator

import "github.com/signalsfoundry/ntn-agent/internal/recovery"

// Metrics receives orchestration events. The observability package
// provides the Prometheus-backed implementation; the zero-dependency noop
// keeps the orchestrator testable without a registry.
type Metrics interface {
	RecordTransition(from, to State)
	RecordAttach(phase int, registered bool)
	RecordSend(bytes int, ok bool)
	RecordSendRetry()
	RecordRecovery(level recovery.Level)
	SetState(s State)
	SetEphemerisStale(stale bool)
	SetNextPassWait(seconds float64)
}

// NopMetrics discards all events.
type NopMetrics struct{}

func (NopMetrics) RecordTransition(from, to State)        {}
func (NopMetrics) RecordAttach(int, bool)                 {}
func (NopMetrics) RecordSend(int, bool)                   {}
func (NopMetrics) RecordSendRetry()                       {}
func (NopMetrics) RecordRecovery(recovery.Level)          {}
func (NopMetrics) SetState(State)                         {}
func (NopMetrics) SetEphemerisStale(bool)                 {}
func (NopMetrics) SetNextPassWait(float64)                {}
