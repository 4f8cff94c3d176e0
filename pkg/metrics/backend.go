package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics covers the backend's gRPC surface, ingestion and scheduler.
type BackendMetrics struct {
	GRPCRequestsTotal       *prometheus.CounterVec
	GRPCRequestDuration     *prometheus.HistogramVec
	GRPCRequestsInFlight    *prometheus.GaugeVec
	IngestMessagesTotal     *prometheus.CounterVec
	IngestMeasurementsTotal *prometheus.CounterVec
	IngestDuration          *prometheus.HistogramVec
	SchedulerJobsTotal      *prometheus.CounterVec
	ActiveConsumers         prometheus.Gauge
}

// NewBackendMetrics creates and registers backend service metrics.
func NewBackendMetrics(namespace string) *BackendMetrics {
	grpc := name{namespace, "grpc"}
	ingest := name{namespace, "ingest"}
	scheduler := name{namespace, "scheduler"}

	m := &BackendMetrics{
		GRPCRequestsTotal:    grpc.counterVec("requests_total", "SeriesService calls by result", "method", "status"),
		GRPCRequestDuration:  grpc.histogramVec("request_duration_seconds", "SeriesService call latency", nil, "method"),
		GRPCRequestsInFlight: grpc.gaugeVec("requests_in_flight", "SeriesService calls being served", "method"),

		// status: success, invalid, error
		IngestMessagesTotal:     ingest.counterVec("messages_total", "Measurement batches received", "transport", "status"),
		IngestMeasurementsTotal: ingest.counterVec("measurements_total", "Measurements stored by ingestion", "granularity"),
		IngestDuration:          ingest.histogramVec("batch_duration_seconds", "Time to validate and store one batch", nil, "transport"),
		ActiveConsumers:         ingest.gauge("active_consumers", "Running ingestion consumers"),

		SchedulerJobsTotal: scheduler.counterVec("jobs_total", "Scheduled rollup jobs by result", "tier", "status"),
	}

	MustRegister(
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.GRPCRequestsInFlight,
		m.IngestMessagesTotal,
		m.IngestMeasurementsTotal,
		m.IngestDuration,
		m.SchedulerJobsTotal,
		m.ActiveConsumers,
	)

	return m
}
