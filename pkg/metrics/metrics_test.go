package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorCountersAppearInMetricsOutput(t *testing.T) {
	c, reg := New()
	c.CheckTxTotal.WithLabelValues("0").Inc()
	c.DeliverTxTotal.WithLabelValues("1").Inc()
	c.CAIssuedTotal.Inc()

	srv := NewServer(":0", reg)
	rr := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rr.Body.String()
	for _, want := range []string{"dpki_checktx_total", "dpki_delivertx_total", "dpki_ca_issued_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected /metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestHealthzReportsOK(t *testing.T) {
	_, reg := New()
	srv := NewServer(":0", reg)
	rr := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
