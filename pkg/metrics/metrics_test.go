package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	c.CounterInc(PipelineRunsTotal.Name, "status", "success")
	c.CounterInc(PipelineRunsTotal.Name, "status", "success")
	c.CounterInc(PipelineRunsTotal.Name, "status", "failed")
	if got := c.GetCounter(PipelineRunsTotal.Name, "status", "success"); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
	if got := c.GetCounter(PipelineRunsTotal.Name, "status", "failed"); got != 1 {
		t.Errorf("counter = %v, want 1", got)
	}

	c.GaugeSet(SecurityScore.Name, 72)
	if got := c.GetGauge(SecurityScore.Name); got != 72 {
		t.Errorf("gauge = %v, want 72", got)
	}
	c.GaugeInc(PipelineActiveRuns.Name)
	c.GaugeInc(PipelineActiveRuns.Name)
	c.GaugeDec(PipelineActiveRuns.Name)
	if got := c.GetGauge(PipelineActiveRuns.Name); got != 1 {
		t.Errorf("gauge = %v, want 1", got)
	}

	c.HistogramObserve(StageDuration.Name, 12.5, "stage", "clone", "status", "success")
	if got := c.GetHistogram(StageDuration.Name, "stage", "clone", "status", "success"); len(got) != 1 || got[0] != 12.5 {
		t.Errorf("histogram = %v", got)
	}
}

func TestPrometheusCollectorExposition(t *testing.T) {
	c := NewPrometheusCollector(nil)

	c.CounterInc(PipelineRunsTotal.Name, "status", "success")
	c.GaugeSet(SecurityScore.Name, 45)
	c.HistogramObserve(StageDuration.Name, 3.2, "stage", "bandit_scan", "status", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`sentinel_pipeline_runs_total{status="success"} 1`,
		`sentinel_security_score 45`,
		`sentinel_stage_duration_seconds_count{stage="bandit_scan",status="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestUnregisteredMetricIsIgnored(t *testing.T) {
	c := NewPrometheusCollector(nil)
	// Must not panic.
	c.CounterInc("sentinel_not_a_metric")
	c.GaugeSet("sentinel_not_a_metric", 1)
	c.HistogramObserve("sentinel_not_a_metric", 1)
}

func TestNopCollector(t *testing.T) {
	var c Collector = &NopCollector{}
	c.CounterInc(PipelineRunsTotal.Name, "status", "success")
	c.GaugeSet(SecurityScore.Name, 1)
	c.HistogramObserve(StageDuration.Name, 1)
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	if OrNop(c) != c {
		t.Fatal("OrNop rewrapped a non-nil collector")
	}
}
