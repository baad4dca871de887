package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics holds the client-side HTTP collectors.
type PrometheusMetrics struct {
	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anchor_client_in_flight_requests",
			Help: "Anchor API requests currently in flight",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_client_requests_total",
				Help: "Anchor API HTTP requests by status code and method, one per attempt",
			},
			[]string{"code", "method"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anchor_client_request_duration_seconds",
				Help:    "Anchor API HTTP request latency per attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	for _, c := range []prometheus.Collector{m.inFlight, m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register anchor client metrics: %w", err)
		}
	}
	return m, nil
}

// Transport wraps next with in-flight, counter and latency instrumentation.
// A nil next uses http.DefaultTransport.
func (m *PrometheusMetrics) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight,
		promhttp.InstrumentRoundTripperCounter(m.requests,
			promhttp.InstrumentRoundTripperDuration(m.duration, next),
		),
	)
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
