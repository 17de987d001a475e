package monitoring

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	var captured []string
	SetLogger(func(format string, v ...interface{}) {
		captured = append(captured, fmt.Sprintf(format, v...))
	})
	defer SetLogger(nil)

	Logf("push failed: %v", "timeout")

	if len(captured) != 1 || captured[0] != "push failed: timeout" {
		t.Errorf("captured = %v, want one formatted entry", captured)
	}
}

func TestSetLoggerNilIsNoOp(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("ignored %d", 1)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.DetectionsAccepted.Add(3)
	m.TelemetryPushErrors.Add(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "bridge_detections_accepted_total 3") {
		t.Errorf("exposition missing accepted counter:\n%s", body)
	}
	if !strings.Contains(body, "bridge_telemetry_push_errors_total 1") {
		t.Errorf("exposition missing push error counter:\n%s", body)
	}
}
