package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RollupMetrics tracks downsampling passes.
type RollupMetrics struct {
	RunsTotal         *prometheus.CounterVec
	RunDuration       *prometheus.HistogramVec
	RecordsWritten    *prometheus.CounterVec
	RecordsDeleted    *prometheus.CounterVec
	IncompleteWindows *prometheus.CounterVec
	// WindowFailures is labelled by stage: write or delete.
	WindowFailures *prometheus.CounterVec
}

// NewRollupMetrics creates and registers rollup metrics.
func NewRollupMetrics(namespace string) *RollupMetrics {
	n := name{namespace, "rollup"}
	m := &RollupMetrics{
		RunsTotal:         n.counterVec("runs_total", "Rollup passes by target tier and result", "tier", "status"),
		RunDuration:       n.histogramVec("run_duration_seconds", "Duration of rollup passes", []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300}, "tier"),
		RecordsWritten:    n.counterVec("records_written_total", "Aggregate records written by rollups", "tier"),
		RecordsDeleted:    n.counterVec("records_deleted_total", "Source records deleted after aggregation", "tier"),
		IncompleteWindows: n.counterVec("incomplete_windows_total", "Closed windows skipped because source data was partial", "tier"),
		WindowFailures:    n.counterVec("window_failures_total", "Windows whose aggregate write or source delete failed", "tier", "stage"),
	}

	MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RecordsWritten,
		m.RecordsDeleted,
		m.IncompleteWindows,
		m.WindowFailures,
	)

	return m
}

// QueryMetrics tracks series reconstruction.
type QueryMetrics struct {
	ReconstructTotal    *prometheus.CounterVec
	ReconstructDuration *prometheus.HistogramVec
	BucketsReturned     *prometheus.HistogramVec
	CalculatedBuckets   *prometheus.CounterVec
}

// NewQueryMetrics creates and registers reconstruction metrics.
func NewQueryMetrics(namespace string) *QueryMetrics {
	n := name{namespace, "series"}
	m := &QueryMetrics{
		ReconstructTotal:    n.counterVec("reconstruct_total", "Series reconstructions by granularity and result", "granularity", "status"),
		ReconstructDuration: n.histogramVec("reconstruct_duration_seconds", "Duration of series reconstructions", nil, "granularity"),
		BucketsReturned:     n.histogramVec("buckets_returned", "Buckets per reconstructed series", prometheus.ExponentialBuckets(1, 4, 8), "granularity"),
		CalculatedBuckets:   n.counterVec("calculated_buckets_total", "Buckets synthesized by interpolation", "granularity"),
	}

	MustRegister(
		m.ReconstructTotal,
		m.ReconstructDuration,
		m.BucketsReturned,
		m.CalculatedBuckets,
	)

	return m
}
