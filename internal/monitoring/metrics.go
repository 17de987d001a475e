package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's operational counters. The hot path updates
// atomics; prometheus reads them lazily through GaugeFunc collectors so a
// scrape never contends with the sequencer loop.
type Metrics struct {
	SignalsReceived     atomic.Uint64
	DetectionsAccepted  atomic.Uint64
	DetectionsSwallowed atomic.Uint64
	SweepsExecuted      atomic.Uint64
	SweepsRateLimited   atomic.Uint64
	InvalidCommands     atomic.Uint64

	TelemetryPushes      atomic.Uint64
	TelemetryPushErrors  atomic.Uint64
	TelemetryPushDropped atomic.Uint64

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with its own prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"bridge_signals_received_total", "Classifier presence signals received over serial", m.SignalsReceived.Load},
		{"bridge_detections_accepted_total", "Detections accepted by the debounce state machine", m.DetectionsAccepted.Load},
		{"bridge_detections_swallowed_total", "Presence signals swallowed by the cooldown window", m.DetectionsSwallowed.Load},
		{"bridge_sweeps_executed_total", "Servo sweep sequences started", m.SweepsExecuted.Load},
		{"bridge_sweeps_rate_limited_total", "Sweep requests dropped by the rate limit", m.SweepsRateLimited.Load},
		{"bridge_invalid_commands_total", "Malformed or out-of-range command lines", m.InvalidCommands.Load},
		{"bridge_telemetry_pushes_total", "Telemetry snapshots pushed to the remote sink", m.TelemetryPushes.Load},
		{"bridge_telemetry_push_errors_total", "Telemetry pushes that failed and were discarded", m.TelemetryPushErrors.Load},
		{"bridge_telemetry_push_dropped_total", "Telemetry snapshots dropped because the push queue was full", m.TelemetryPushDropped.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns an HTTP handler serving the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
