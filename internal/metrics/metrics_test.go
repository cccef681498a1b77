package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_CountersStartAtZero(t *testing.T) {
	m := New()

	if got := testutil.ToFloat64(m.ClicksDropped); got != 0 {
		t.Errorf("ClicksDropped = %f, want 0", got)
	}
	if got := testutil.ToFloat64(m.CacheHits); got != 0 {
		t.Errorf("CacheHits = %f, want 0", got)
	}
}

func TestMetrics_CountersIncrement(t *testing.T) {
	m := New()

	m.CacheHits.Inc()
	m.CacheHits.Inc()
	m.ClicksEnqueued.Inc()

	if got := testutil.ToFloat64(m.CacheHits); got != 2 {
		t.Errorf("CacheHits = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.ClicksEnqueued); got != 1 {
		t.Errorf("ClicksEnqueued = %f, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Redirects.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "redirects_total 1") {
		t.Error("exposition missing redirects_total counter")
	}
}

func TestNew_InstancesAreIsolated(t *testing.T) {
	a := New()
	b := New()

	a.ClicksDropped.Inc()

	if got := testutil.ToFloat64(b.ClicksDropped); got != 0 {
		t.Errorf("second instance ClicksDropped = %f, want 0", got)
	}
}
