package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/signalsfoundry/ntn-agent/internal/orchestrator"
	"github.com/signalsfoundry/ntn-agent/internal/recovery"
)

// counterValue reads a counter sample with the given labels straight from
// the registry, exercising the full gather path.
func counterValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !labelsMatch(metric.GetLabel(), labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("no sample for %s with labels %v", name, labels)
	return 0
}

func labelsMatch(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range got {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestCollectorRecordsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.RecordTransition(orchestrator.StateIdle, orchestrator.StateAttachStep1)
	collector.RecordTransition(orchestrator.StateIdle, orchestrator.StateAttachStep1)
	collector.RecordTransition(orchestrator.StateAttachStep1, orchestrator.StateAttachStep2)

	if got := testutil.ToFloat64(collector.Transitions.WithLabelValues("idle", "attach-step1")); got != 2 {
		t.Fatalf("ntn_state_transitions_total{idle,attach-step1} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Transitions.WithLabelValues("attach-step1", "attach-step2")); got != 1 {
		t.Fatalf("ntn_state_transitions_total{attach-step1,attach-step2} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "ntn_state_transitions_total", map[string]string{
		"from": "idle",
		"to":   "attach-step1",
	}); got != 2 {
		t.Fatalf("gathered transition count = %v, want 2", got)
	}
}

func TestCollectorRecordsAttachOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.RecordAttach(1, false)
	collector.RecordAttach(2, true)
	collector.RecordAttach(2, true)

	if got := testutil.ToFloat64(collector.AttachAttempts.WithLabelValues("1", "false")); got != 1 {
		t.Fatalf("phase 1 unregistered = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.AttachAttempts.WithLabelValues("2", "true")); got != 2 {
		t.Fatalf("phase 2 registered = %v, want 2", got)
	}
}

func TestCollectorRecordsSendsAndRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.RecordSend(96, true)
	collector.RecordSend(0, false)
	collector.RecordSendRetry()
	collector.RecordSendRetry()

	if got := testutil.ToFloat64(collector.SendBytes); got != 96 {
		t.Fatalf("ntn_send_bytes_total = %v, want 96", got)
	}
	if got := testutil.ToFloat64(collector.SendOutcomes.WithLabelValues("ok")); got != 1 {
		t.Fatalf("sends ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SendOutcomes.WithLabelValues("error")); got != 1 {
		t.Fatalf("sends error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SendRetries); got != 2 {
		t.Fatalf("ntn_send_retries_total = %v, want 2", got)
	}
}

func TestCollectorRecordsRecoveryLevels(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.RecordRecovery(recovery.LevelLinkTeardown)
	collector.RecordRecovery(recovery.LevelConfigReset)

	if got := testutil.ToFloat64(collector.Recoveries.WithLabelValues(recovery.LevelLinkTeardown.String())); got != 1 {
		t.Fatalf("recovery link teardown = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.Recoveries.WithLabelValues(recovery.LevelConfigReset.String())); got != 1 {
		t.Fatalf("recovery config reset = %v, want 1", got)
	}
}

func TestSetStateMarksSingleActiveState(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}

	collector.SetState(orchestrator.StateSendingData)
	collector.SetState(orchestrator.StateIdle)

	if got := testutil.ToFloat64(collector.CurrentState.WithLabelValues("idle")); got != 1 {
		t.Fatalf("state gauge idle = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.CurrentState.WithLabelValues("sending-data")); got != 0 {
		t.Fatalf("state gauge sending-data = %v, want 0", got)
	}
}

func TestMetricsHandlerExposesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector: %v", err)
	}
	collector.SetEphemerisStale(true)
	collector.SetNextPassWait(732.5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler status = %d, want 200", rr.Code)
	}
	body, err := io.ReadAll(rr.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	for _, want := range []string{"ntn_ephemeris_stale 1", "ntn_next_pass_wait_seconds 732.5"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics body missing %q", want)
		}
	}
}

func TestDuplicateRegistrationReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector (first): %v", err)
	}
	second, err := NewAgentCollector(reg)
	if err != nil {
		t.Fatalf("NewAgentCollector (second): %v", err)
	}

	first.RecordSendRetry()
	second.RecordSendRetry()

	if got := testutil.ToFloat64(second.SendRetries); got != 2 {
		t.Fatalf("shared retry counter = %v, want 2", got)
	}
}
