package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	m := New()

	m.ObserveResolution("cookie")
	m.ObserveResolution("cookie")
	m.ObserveLogin("password", "success")
	m.ObserveRefresh("failure")
	m.ObserveRateLimited("login")

	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("cookie")); got != 2 {
		t.Fatalf("expected 2 cookie resolutions, got %v", got)
	}
	if got := testutil.ToFloat64(m.logins.WithLabelValues("password", "success")); got != 1 {
		t.Fatalf("expected 1 login, got %v", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 refresh failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.rateLimited.WithLabelValues("login")); got != 1 {
		t.Fatalf("expected 1 rate limit rejection, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/me", http.StatusOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`housegen_http_request_duration_seconds_count{method="GET",route="/api/me",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveRefresh("success")

	if got := testutil.ToFloat64(b.refreshes.WithLabelValues("success")); got != 0 {
		t.Fatalf("expected separate registries, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	m.ObserveResolution("anonymous")
	m.ObserveLogin("password", "failure")
	m.ObserveRefresh("success")
	m.ObserveRateLimited("login")
}
