// Package metrics provides Prometheus metrics for the wedro services.
//
// Every constructor takes a namespace and registers its collectors with
// Registry, so each may be called once per namespace and process.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide Prometheus registry.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the OpenMetrics exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with Registry and panics on conflict.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}

// Status label values shared by the request counters.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// name scopes metric options to one namespace and subsystem.
type name struct {
	namespace string
	subsystem string
}

func (n name) counter(metric, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: n.namespace, Subsystem: n.subsystem, Name: metric, Help: help,
	})
}

func (n name) counterVec(metric, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: n.namespace, Subsystem: n.subsystem, Name: metric, Help: help,
	}, labels)
}

func (n name) gauge(metric, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: n.namespace, Subsystem: n.subsystem, Name: metric, Help: help,
	})
}

func (n name) gaugeVec(metric, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: n.namespace, Subsystem: n.subsystem, Name: metric, Help: help,
	}, labels)
}

// histogramVec uses buckets, or prometheus.DefBuckets when nil.
func (n name) histogramVec(metric, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	if buckets == nil {
		buckets = prometheus.DefBuckets
	}
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: n.namespace, Subsystem: n.subsystem, Name: metric, Help: help, Buckets: buckets,
	}, labels)
}
