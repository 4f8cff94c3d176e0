package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/mq/mock"
	"github.com/team13Uni/wedro/pkg/payload"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

var _ = Describe("Consumer", func() {
	var (
		store    *timeseries.MemoryStore
		ingestor *backend.Ingestor
		client   *mock.MockClient
		acks     *mock.Acknowledger
		queue    chan amqp.Delivery
	)

	validBatch := func() []byte {
		return batchJSON(payload.Batch{
			StationID:  "st-1",
			LocationID: "roof",
			Measurements: []payload.Reading{{
				Temperature: value(18),
				Humidity:    value(0.6),
				MeasuredAt:  time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
			}},
		})
	}

	newConsumer := func(i *backend.Ingestor) *backend.Consumer {
		c, err := backend.NewConsumer(&backend.ConsumerConfig{
			Logger:       testLogger(),
			Ingestor:     i,
			Client:       client,
			Metrics:      backendMetrics,
			Broker:       brokerMetrics,
			ReadyTimeout: time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		store = timeseries.NewMemoryStore()
		var err error
		ingestor, err = backend.NewIngestor(&backend.IngestorConfig{Store: store, Stations: store, Logger: testLogger()})
		Expect(err).NotTo(HaveOccurred())

		queue = make(chan amqp.Delivery, 10)
		client = &mock.MockClient{Deliveries: queue}
		acks = &mock.Acknowledger{}
	})

	Describe("NewConsumer", func() {
		It("should validate its configuration", func() {
			_, err := backend.NewConsumer(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))

			_, err = backend.NewConsumer(&backend.ConsumerConfig{Ingestor: ingestor, Client: client})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))

			_, err = backend.NewConsumer(&backend.ConsumerConfig{Logger: testLogger(), Client: client})
			Expect(err).To(MatchError(ContainSubstring("ingestor cannot be nil")))

			_, err = backend.NewConsumer(&backend.ConsumerConfig{Logger: testLogger(), Ingestor: ingestor})
			Expect(err).To(MatchError(ContainSubstring("mq client cannot be nil")))
		})
	})

	Describe("Start", func() {
		It("should fail when the client never becomes ready", func() {
			client.NotReady = true
			c := newConsumer(ingestor)

			ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer cancel()
			Expect(c.Start(ctx)).To(MatchError(ContainSubstring("not ready")))
			Expect(client.ConsumeCalls).To(BeZero())
		})

		It("should surface consume errors", func() {
			client.ConsumeError = errors.New("channel closed")
			c := newConsumer(ingestor)

			Expect(c.Start(context.Background())).To(MatchError(ContainSubstring("channel closed")))
		})
	})

	Describe("message handling", func() {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)

		start := func(i *backend.Ingestor) *backend.Consumer {
			c := newConsumer(i)
			ctx, cancel = context.WithCancel(context.Background())
			Expect(c.Start(ctx)).To(Succeed())
			DeferCleanup(func() {
				cancel()
				Eventually(c.Done()).Should(BeClosed())
				Expect(c.Stop()).To(Succeed())
			})
			return c
		}

		It("should store and ack valid batches", func() {
			start(ingestor)
			queue <- acks.Delivery(1, validBatch())

			Eventually(func() []uint64 { a, _ := ackedTags(acks); return a }).Should(ConsistOf(uint64(1)))
			Expect(store.Len()).To(Equal(1))
		})

		It("should ack and drop invalid batches", func() {
			start(ingestor)
			queue <- acks.Delivery(7, []byte(`not json`))

			Eventually(func() []uint64 { a, _ := ackedTags(acks); return a }).Should(ConsistOf(uint64(7)))
			_, nacked := acks.Counts()
			Expect(nacked).To(BeZero())
			Expect(store.Len()).To(BeZero())
		})

		It("should nack with requeue when the store fails", func() {
			failing := &failingInserts{MemoryStore: timeseries.NewMemoryStore()}
			i, err := backend.NewIngestor(&backend.IngestorConfig{Store: failing, Stations: failing, Logger: testLogger()})
			Expect(err).NotTo(HaveOccurred())

			requeued := brokerMetrics.Deliveries.WithLabelValues(backend.TransportAMQP, metrics.OutcomeRequeued)
			before := testutil.ToFloat64(requeued)

			start(i)
			queue <- acks.Delivery(3, validBatch())

			Eventually(func() int { _, n := acks.Counts(); return n }).Should(Equal(1))
			acked, requeue := ackedTags(acks)
			Expect(acked).To(BeEmpty())
			Expect(requeue).To(ConsistOf(true))
			Expect(testutil.ToFloat64(requeued)).To(Equal(before + 1))
		})

		It("should stop when the deliveries channel closes", func() {
			c := newConsumer(ingestor)
			Expect(c.Start(context.Background())).To(Succeed())

			close(queue)
			Eventually(c.Done()).Should(BeClosed())
			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})
	})

	Describe("Stop", func() {
		It("should close the client without having started", func() {
			c := newConsumer(ingestor)
			Expect(c.Stop()).To(Succeed())
			Expect(client.CloseCalls).To(Equal(1))
		})
	})
})

func ackedTags(a *mock.Acknowledger) (acked []uint64, requeue []bool) {
	acked, _, requeue = a.Snapshot()
	return acked, requeue
}
