package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"one unhealthy", []Status{StatusHealthy, StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
		{"no checks", nil, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler("test")
			for i, status := range tt.statuses {
				s := status
				h.RegisterFunc(fmt.Sprintf("check%d", i), func(ctx context.Context) CheckResult {
					return CheckResult{Status: s}
				})
			}
			resp := h.Check(context.Background())
			if resp.Status != tt.want {
				t.Errorf("Status = %s, want %s", resp.Status, tt.want)
			}
			if len(resp.Checks) != len(tt.statuses) {
				t.Errorf("Checks = %d, want %d", len(resp.Checks), len(tt.statuses))
			}
		})
	}
}

func TestLivenessAlwaysOK(t *testing.T) {
	h := NewHandler("test")
	h.RegisterFunc("broken", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness = %d, want 200", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	h := NewHandler("test")

	rec := httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready = %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready = %d, want 200", rec.Code)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %s", resp.Status)
	}

	// A failing dependency flips readiness back to 503.
	h.RegisterFunc("database", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy, Error: "connection refused"}
	})
	rec = httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy dependency = %d, want 503", rec.Code)
	}
}

func TestDatabaseCheck(t *testing.T) {
	ok := &DatabaseCheck{PingFunc: func(ctx context.Context) error { return nil }}
	if got := ok.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("healthy ping = %s", got.Status)
	}

	bad := &DatabaseCheck{PingFunc: func(ctx context.Context) error { return fmt.Errorf("locked") }}
	if got := bad.Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("failing ping = %s", got.Status)
	}

	unset := &DatabaseCheck{}
	if got := unset.Check(context.Background()); got.Status != StatusDegraded {
		t.Errorf("unset ping = %s", got.Status)
	}
}

func TestScannerCheckDegradesWhenMissing(t *testing.T) {
	missing := &ScannerCheck{
		Binary: "trivy",
		CheckFunc: func(ctx context.Context, binary string) error {
			return fmt.Errorf("executable file not found in $PATH")
		},
	}
	got := missing.Check(context.Background())
	if got.Status != StatusDegraded {
		t.Errorf("missing scanner = %s, want degraded", got.Status)
	}

	installed := &ScannerCheck{
		Binary:    "bandit",
		CheckFunc: func(ctx context.Context, binary string) error { return nil },
	}
	if got := installed.Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("installed scanner = %s", got.Status)
	}
}

func TestCheckTimeout(t *testing.T) {
	h := NewHandler("test")
	h.RegisterFunc("slow", func(ctx context.Context) CheckResult {
		select {
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
		case <-time.After(30 * time.Second):
			return CheckResult{Status: StatusHealthy}
		}
	})
	h.timeout = 50 * time.Millisecond

	start := time.Now()
	resp := h.Check(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Check took %v, timeout not applied", elapsed)
	}
	if resp.Status != StatusUnhealthy {
		t.Errorf("timed-out check = %s, want unhealthy", resp.Status)
	}
}
