package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics covers the station simulator.
type ProducerMetrics struct {
	// Batch metrics are labelled by kind: live or backfill.
	BatchesPublished  *prometheus.CounterVec
	PublishFailures   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	ActiveStations    prometheus.Gauge
	StationsGenerated prometheus.Counter
	ReadingsPublished prometheus.Counter
}

// NewProducerMetrics creates and registers simulator metrics.
func NewProducerMetrics(namespace string) *ProducerMetrics {
	n := name{namespace, "producer"}
	m := &ProducerMetrics{
		BatchesPublished:  n.counterVec("batches_published_total", "Measurement batches published", "kind"),
		PublishFailures:   n.counterVec("publish_failures_total", "Measurement batches that failed to publish", "kind", "reason"),
		PublishDuration:   n.histogramVec("publish_duration_seconds", "Time to build and publish one batch", nil, "kind"),
		ActiveStations:    n.gauge("active_stations", "Simulated stations currently running"),
		StationsGenerated: n.counter("stations_generated_total", "Simulated stations created"),
		ReadingsPublished: n.counter("readings_published_total", "Five-minute readings published"),
	}

	MustRegister(
		m.BatchesPublished,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveStations,
		m.StationsGenerated,
		m.ReadingsPublished,
	)

	return m
}
