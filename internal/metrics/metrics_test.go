package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := New()
	m.Tick()
	m.Tick()
	m.StageOutcome("PLAN", OutcomeAdvanced)
	m.StageOutcome("PLAN", OutcomeFailed)
	m.StageOutcome("PLAN", OutcomeFailed)
	m.QueueDepth("CODE", 4)
	m.PRPoll("merged")
	m.PendingPRs(3)
	m.Transition("product_dev_v1", "PLAN_COMPLETED")
	m.HandlerDuration("PLAN", 250*time.Millisecond)

	if got := testutil.ToFloat64(m.ticks); got != 2 {
		t.Fatalf("ticks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.stageOutcomes.WithLabelValues("PLAN", OutcomeFailed)); got != 2 {
		t.Fatalf("failed outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("CODE")); got != 4 {
		t.Fatalf("queue depth = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.pendingPRs); got != 3 {
		t.Fatalf("pending = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("product_dev_v1", "PLAN_COMPLETED")); got != 1 {
		t.Fatalf("transitions = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Tick()
	m.StageOutcome("PLAN", OutcomeAdvanced)
	m.PRPoll("open")
	m.PendingPRs(1)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.StageOutcome("CODE", OutcomeCompleted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `remotedev_pipeline_stage_outcomes_total{outcome="completed",stage="CODE"} 1`) {
		t.Fatalf("expected outcome series in output:\n%s", body)
	}
}
