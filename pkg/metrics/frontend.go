package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FrontendMetrics covers the query API and its calls to the backend.
type FrontendMetrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	GRPCClientCalls      *prometheus.CounterVec
	GRPCClientDuration   *prometheus.HistogramVec
	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState *prometheus.GaugeVec
}

// NewFrontendMetrics creates and registers query API metrics.
func NewFrontendMetrics(namespace string) *FrontendMetrics {
	http := name{namespace, "http"}
	backend := name{namespace, "grpc_client"}

	m := &FrontendMetrics{
		HTTPRequestsTotal:    http.counterVec("requests_total", "Query API requests by route and status code", "method", "route", "status_code"),
		HTTPRequestDuration:  http.histogramVec("request_duration_seconds", "Query API latency", nil, "method", "route"),
		HTTPRequestsInFlight: http.gauge("requests_in_flight", "Query API requests being served"),
		GRPCClientCalls:      backend.counterVec("calls_total", "SeriesService calls by status code", "method", "code"),
		GRPCClientDuration:   backend.histogramVec("call_duration_seconds", "SeriesService call latency seen by the frontend", nil, "method"),
		BreakerState:         backend.gaugeVec("breaker_state", "Circuit breaker state around the backend", "name"),
	}

	MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.GRPCClientCalls,
		m.GRPCClientDuration,
		m.BreakerState,
	)

	return m
}
