// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the agent.
package observability

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/internal/recovery"
)

// AgentCollector bundles the Prometheus metrics emitted by the
// orchestrator and exposes a ready-to-serve /metrics handler. It satisfies
// orchestrator.Metrics.
type AgentCollector struct {
	gatherer prometheus.Gatherer

	Transitions    *prometheus.CounterVec
	AttachAttempts *prometheus.CounterVec
	SendBytes      prometheus.Counter
	SendOutcomes   *prometheus.CounterVec
	SendRetries    prometheus.Counter
	Recoveries     *prometheus.CounterVec

	CurrentState   *prometheus.GaugeVec
	EphemerisStale prometheus.Gauge
	NextPassWait   prometheus.Gauge
}

// NewAgentCollector registers the agent metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAgentCollector(reg prometheus.Registerer) (*AgentCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_state_transitions_total",
		Help: "Total orchestrator state transitions, labeled by source and destination state.",
	}, []string{"from", "to"}), "ntn_state_transitions_total")
	if err != nil {
		return nil, err
	}

	attaches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_attach_attempts_total",
		Help: "Total network attach attempts, labeled by phase and outcome.",
	}, []string{"phase", "registered"}), "ntn_attach_attempts_total")
	if err != nil {
		return nil, err
	}

	sendBytes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ntn_send_bytes_total",
		Help: "Total telemetry payload bytes handed to the transport.",
	}), "ntn_send_bytes_total")
	if err != nil {
		return nil, err
	}

	sendOutcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_sends_total",
		Help: "Total telemetry send attempts, labeled by outcome.",
	}, []string{"outcome"}), "ntn_sends_total")
	if err != nil {
		return nil, err
	}

	sendRetries, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ntn_send_retries_total",
		Help: "Total telemetry send retries after transport failures.",
	}), "ntn_send_retries_total")
	if err != nil {
		return nil, err
	}

	recoveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_recovery_actions_total",
		Help: "Total recovery escalations, labeled by escalation level.",
	}, []string{"level"}), "ntn_recovery_actions_total")
	if err != nil {
		return nil, err
	}

	state, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ntn_orchestrator_state",
		Help: "Current orchestrator state (1 for the active state, 0 otherwise).",
	}, []string{"state"}), "ntn_orchestrator_state")
	if err != nil {
		return nil, err
	}

	stale, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ntn_ephemeris_stale",
		Help: "Whether the ephemeris store is past its refresh interval (1 stale, 0 fresh).",
	}), "ntn_ephemeris_stale")
	if err != nil {
		return nil, err
	}

	passWait, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ntn_next_pass_wait_seconds",
		Help: "Seconds until the next predicted satellite pass.",
	}), "ntn_next_pass_wait_seconds")
	if err != nil {
		return nil, err
	}

	return &AgentCollector{
		gatherer:       gatherer,
		Transitions:    transitions,
		AttachAttempts: attaches,
		SendBytes:      sendBytes,
		SendOutcomes:   sendOutcomes,
		SendRetries:    sendRetries,
		Recoveries:     recoveries,
		CurrentState:   state,
		EphemerisStale: stale,
		NextPassWait:   passWait,
	}, nil
}

// RecordTransition counts an orchestrator state change.
func (c *AgentCollector) RecordTransition(from, to orchestrator.State) {
	if c == nil || c.Transitions == nil {
		return
	}
	c.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordAttach counts an attach attempt for the given phase.
func (c *AgentCollector) RecordAttach(phase int, registered bool) {
	if c == nil || c.AttachAttempts == nil {
		return
	}
	c.AttachAttempts.WithLabelValues(strconv.Itoa(phase), strconv.FormatBool(registered)).Inc()
}

// RecordSend counts a telemetry send attempt and its payload size.
func (c *AgentCollector) RecordSend(bytes int, ok bool) {
	if c == nil {
		return
	}
	if c.SendBytes != nil && ok {
		c.SendBytes.Add(float64(bytes))
	}
	if c.SendOutcomes != nil {
		outcome := "error"
		if ok {
			outcome = "ok"
		}
		c.SendOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordSendRetry counts a send retry.
func (c *AgentCollector) RecordSendRetry() {
	if c == nil || c.SendRetries == nil {
		return
	}
	c.SendRetries.Inc()
}

// RecordRecovery counts a recovery escalation by level.
func (c *AgentCollector) RecordRecovery(level recovery.Level) {
	if c == nil || c.Recoveries == nil {
		return
	}
	c.Recoveries.WithLabelValues(level.String()).Inc()
}

// SetState marks the active orchestrator state, zeroing all others.
func (c *AgentCollector) SetState(s orchestrator.State) {
	if c == nil || c.CurrentState == nil {
		return
	}
	for st := orchestrator.StateInit; st <= orchestrator.StateError; st++ {
		v := 0.0
		if st == s {
			v = 1.0
		}
		c.CurrentState.WithLabelValues(st.String()).Set(v)
	}
}

// SetEphemerisStale reports ephemeris freshness.
func (c *AgentCollector) SetEphemerisStale(stale bool) {
	if c == nil || c.EphemerisStale == nil {
		return
	}
	v := 0.0
	if stale {
		v = 1.0
	}
	c.EphemerisStale.Set(v)
}

// SetNextPassWait reports the wait until the next predicted pass.
func (c *AgentCollector) SetNextPassWait(seconds float64) {
	if c == nil || c.NextPassWait == nil {
		return
	}
	c.NextPassWait.Set(seconds)
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AgentCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, ctr prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(ctr); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return ctr, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
