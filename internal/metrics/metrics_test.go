package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/auth/kenni/start", "/auth/kenni/start"},
		{"/auth/google/callback", "/auth/google/callback"},
		{"/auth/popup/google.com/callback", "/auth/popup/{provider}/callback"},
		{"/auth/popup/dismiss", "/auth/popup/dismiss"},
		{"/users/123", "/other"},
		{"/", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, rec.Code)
	}

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `status="418"`) {
		t.Error("Expected request counter labelled with status 418")
	}
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	RecordFlowOutcome("failed", "exchange")
	ObserveUpstream("eligibility", "timeout", false, 20*time.Millisecond)
	RecordEligibility("eligible")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"kosning_registration_flows_total",
		"kosning_upstream_calls_total",
		"kosning_eligibility_checks_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected %s in metrics output", name)
		}
	}
	if !strings.Contains(body, `result="timeout"`) {
		t.Error("Expected failed upstream call to be labelled with its code")
	}
}
