package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes of an ingested broker message.
const (
	OutcomeStored   = "stored"
	OutcomeDropped  = "dropped"
	OutcomeRequeued = "requeued"
	OutcomeFailed   = "failed"
)

// MQMetrics covers the message brokers: publishing through the RabbitMQ
// client and deliveries received over AMQP or MQTT.
type MQMetrics struct {
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	Deliveries      *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	Connected       *prometheus.GaugeVec
}

// NewMQMetrics creates and registers broker metrics.
func NewMQMetrics(namespace string) *MQMetrics {
	n := name{namespace: namespace, subsystem: "broker"}
	m := &MQMetrics{
		Published:       n.counterVec("published_total", "Measurement batches confirmed by the broker", "queue"),
		PublishFailures: n.counterVec("publish_failures_total", "Measurement batches the broker never confirmed", "queue", "reason"),
		PublishDuration: n.histogramVec("publish_duration_seconds", "Time until a publish is confirmed or abandoned", nil, "queue"),
		Deliveries:      n.counterVec("deliveries_total", "Received measurement batches by outcome", "transport", "outcome"),
		Reconnects:      n.counterVec("connect_attempts_total", "Broker connection attempts", "transport"),
		Connected:       n.gaugeVec("connected", "1 while the broker connection is up", "transport"),
	}

	MustRegister(
		m.Published,
		m.PublishFailures,
		m.PublishDuration,
		m.Deliveries,
		m.Reconnects,
		m.Connected,
	)

	return m
}

// Delivered counts one received batch. It is safe on a nil receiver.
func (m *MQMetrics) Delivered(transport, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(transport, outcome).Inc()
}

// SetConnected records the connection state. It is safe on a nil receiver.
func (m *MQMetrics) SetConnected(transport string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.Connected.WithLabelValues(transport).Set(v)
}
