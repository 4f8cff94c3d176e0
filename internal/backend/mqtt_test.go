package backend_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/payload"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

var _ = Describe("MQTTSubscriber", func() {
	var (
		store    *timeseries.MemoryStore
		ingestor *backend.Ingestor
	)

	BeforeEach(func() {
		store = timeseries.NewMemoryStore()
		var err error
		ingestor, err = backend.NewIngestor(&backend.IngestorConfig{Store: store, Stations: store, Logger: testLogger()})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewMQTTSubscriber", func() {
		It("should validate its configuration", func() {
			_, err := backend.NewMQTTSubscriber(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))

			_, err = backend.NewMQTTSubscriber(&backend.MQTTConfig{Ingestor: ingestor, Broker: "tcp://localhost:1883"})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))

			_, err = backend.NewMQTTSubscriber(&backend.MQTTConfig{Logger: testLogger(), Broker: "tcp://localhost:1883"})
			Expect(err).To(MatchError(ContainSubstring("ingestor cannot be nil")))

			_, err = backend.NewMQTTSubscriber(&backend.MQTTConfig{Logger: testLogger(), Ingestor: ingestor})
			Expect(err).To(MatchError(ContainSubstring("broker cannot be empty")))

			_, err = backend.NewMQTTSubscriber(&backend.MQTTConfig{Logger: testLogger(), Ingestor: ingestor, Broker: "tcp://localhost:1883", QoS: 3})
			Expect(err).To(MatchError(ContainSubstring("invalid mqtt qos")))
		})

		It("should start disconnected", func() {
			sub, err := backend.NewMQTTSubscriber(&backend.MQTTConfig{Logger: testLogger(), Ingestor: ingestor, Broker: "tcp://localhost:1883"})
			Expect(err).NotTo(HaveOccurred())
			Expect(sub.IsConnected()).To(BeFalse())
		})
	})

	Describe("Handle", func() {
		var sub *backend.MQTTSubscriber

		BeforeEach(func() {
			var err error
			sub, err = backend.NewMQTTSubscriber(&backend.MQTTConfig{
				Logger:   testLogger(),
				Ingestor: ingestor,
				Broker:   "tcp://localhost:1883",
				ClientID: "handle-test",
				Metrics:  brokerMetrics,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should ingest a message", func() {
			data := batchJSON(payload.Batch{
				StationID:  "st-9",
				LocationID: "attic",
				Measurements: []payload.Reading{{
					Temperature: value(-3.5),
					Humidity:    value(0.8),
					MeasuredAt:  time.Date(2024, time.January, 5, 6, 1, 0, 0, time.UTC).UnixMilli(),
				}},
			})

			stored := brokerMetrics.Deliveries.WithLabelValues(backend.TransportMQTT, metrics.OutcomeStored)
			before := testutil.ToFloat64(stored)

			Expect(sub.Handle(context.Background(), "wedro/stations/st-9/measurements", data)).To(Succeed())
			Expect(store.Len()).To(Equal(1))
			Expect(testutil.ToFloat64(stored)).To(Equal(before + 1))
		})

		It("should return validation errors", func() {
			dropped := brokerMetrics.Deliveries.WithLabelValues(backend.TransportMQTT, metrics.OutcomeDropped)
			before := testutil.ToFloat64(dropped)

			err := sub.Handle(context.Background(), "wedro/stations/st-9/measurements", []byte(`{}`))
			Expect(err).To(MatchError(payload.ErrInvalid))
			Expect(testutil.ToFloat64(dropped)).To(Equal(before + 1))
		})
	})

	Describe("Connect", func() {
		It("should give up when the context ends", func() {
			sub, err := backend.NewMQTTSubscriber(&backend.MQTTConfig{
				Logger:   testLogger(),
				Ingestor: ingestor,
				Broker:   "tcp://127.0.0.1:1",
				ClientID: "connect-test",
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(sub.Disconnect)

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			Expect(sub.Connect(ctx)).To(MatchError(context.DeadlineExceeded))
		})

		It("should refuse to connect after Disconnect", func() {
			sub, err := backend.NewMQTTSubscriber(&backend.MQTTConfig{Logger: testLogger(), Ingestor: ingestor, Broker: "tcp://127.0.0.1:1"})
			Expect(err).NotTo(HaveOccurred())

			sub.Disconnect()
			Expect(sub.Connect(context.Background())).To(MatchError(ContainSubstring("stopped")))
		})
	})
})
