package backend_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/payload"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

type failingInserts struct {
	*timeseries.MemoryStore
	after int
	calls int
}

func (f *failingInserts) Insert(ctx context.Context, m timeseries.Measurement) (timeseries.Measurement, error) {
	f.calls++
	if f.calls > f.after {
		return timeseries.Measurement{}, errors.New("disk full")
	}
	return f.MemoryStore.Insert(ctx, m)
}

func value(v float64) *float64 { return &v }

func batchJSON(b payload.Batch) []byte {
	data, err := b.Encode()
	Expect(err).NotTo(HaveOccurred())
	return data
}

var _ = Describe("Ingestor", func() {
	var (
		ctx      context.Context
		store    *timeseries.MemoryStore
		ingestor *backend.Ingestor
		now      time.Time
		at       time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = timeseries.NewMemoryStore()
		now = time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
		at = time.Date(2024, time.May, 1, 10, 7, 31, 0, time.UTC)

		var err error
		ingestor, err = backend.NewIngestor(&backend.IngestorConfig{
			Store:    store,
			Stations: store,
			Logger:   testLogger(),
			Metrics:  backendMetrics,
			Now:      func() time.Time { return now },
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewIngestor", func() {
		It("should validate its configuration", func() {
			_, err := backend.NewIngestor(nil)
			Expect(err).To(HaveOccurred())

			_, err = backend.NewIngestor(&backend.IngestorConfig{Stations: store, Logger: testLogger()})
			Expect(err).To(MatchError(ContainSubstring("store cannot be nil")))

			_, err = backend.NewIngestor(&backend.IngestorConfig{Store: store, Logger: testLogger()})
			Expect(err).To(MatchError(ContainSubstring("station registry cannot be nil")))

			_, err = backend.NewIngestor(&backend.IngestorConfig{Store: store, Stations: store})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})
	})

	It("should store readings truncated to five minutes by default", func() {
		stored, err := ingestor.Ingest(ctx, backend.TransportAMQP, batchJSON(payload.Batch{
			StationID:  "st-1",
			LocationID: "roof",
			Measurements: []payload.Reading{
				{Temperature: value(20.5), Humidity: value(0.4), MeasuredAt: at.UnixMilli()},
				{Temperature: value(21), Humidity: value(0.45), MeasuredAt: at.Add(5 * time.Minute).UnixMilli()},
			},
		}))
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(Equal(2))

		found, err := store.Find(ctx, timeseries.Filter{StationID: "st-1", Granularity: timeseries.FiveMinutes})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(2))

		var times []time.Time
		for _, m := range found {
			times = append(times, m.MeasuredAt)
			Expect(m.LocationID).To(Equal("roof"))
		}
		Expect(times).To(ConsistOf(
			time.Date(2024, time.May, 1, 10, 5, 0, 0, time.UTC),
			time.Date(2024, time.May, 1, 10, 10, 0, 0, time.UTC),
		))
	})

	It("should honour an explicit tier", func() {
		_, err := ingestor.Ingest(ctx, backend.TransportMQTT, batchJSON(payload.Batch{
			StationID:    "st-1",
			LocationID:   "roof",
			Granularity:  "hour",
			Measurements: []payload.Reading{{Temperature: value(5), Humidity: value(0.9), MeasuredAt: at.UnixMilli()}},
		}))
		Expect(err).NotTo(HaveOccurred())

		found, err := store.Find(ctx, timeseries.Filter{Granularity: timeseries.Hour})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))
		Expect(found[0].MeasuredAt).To(Equal(time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)))
	})

	It("should record station activity", func() {
		_, err := ingestor.Ingest(ctx, backend.TransportAMQP, batchJSON(payload.Batch{
			StationID:    "st-1",
			LocationID:   "roof",
			Measurements: []payload.Reading{{Temperature: value(5), Humidity: value(0.9), MeasuredAt: at.UnixMilli()}},
		}))
		Expect(err).NotTo(HaveOccurred())

		stations, err := store.ListStations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(ConsistOf(timeseries.Station{StationID: "st-1", LocationID: "roof", LastActiveAt: now}))
	})

	DescribeTable("should reject invalid batches",
		func(data []byte) {
			stored, err := ingestor.Ingest(ctx, backend.TransportAMQP, data)
			Expect(err).To(MatchError(payload.ErrInvalid))
			Expect(stored).To(BeZero())
			Expect(store.Len()).To(BeZero())
		},
		Entry("malformed JSON", []byte(`{"stationId":`)),
		Entry("no readings", []byte(`{"stationId":"st-1","locationId":"roof","measurements":[]}`)),
		Entry("temperature out of range", []byte(`{"stationId":"st-1","locationId":"roof","measurements":[{"temperature":81,"humidity":0.5,"measuredAt":1714557600000}]}`)),
		Entry("humidity as percent", []byte(`{"stationId":"st-1","locationId":"roof","measurements":[{"temperature":20,"humidity":45,"measuredAt":1714557600000}]}`)),
		Entry("missing time", []byte(`{"stationId":"st-1","locationId":"roof","measurements":[{"temperature":20,"humidity":0.5}]}`)),
		Entry("unstored tier", []byte(`{"stationId":"st-1","locationId":"roof","granularity":"minute","measurements":[{"temperature":20,"humidity":0.5,"measuredAt":1714557600000}]}`)),
	)

	It("should report a partial write as a transient error", func() {
		failing := &failingInserts{MemoryStore: timeseries.NewMemoryStore(), after: 1}
		i, err := backend.NewIngestor(&backend.IngestorConfig{
			Store:    failing,
			Stations: failing,
			Logger:   testLogger(),
		})
		Expect(err).NotTo(HaveOccurred())

		stored, err := i.Ingest(ctx, backend.TransportAMQP, batchJSON(payload.Batch{
			StationID:  "st-1",
			LocationID: "roof",
			Measurements: []payload.Reading{
				{Temperature: value(1), Humidity: value(0.1), MeasuredAt: at.UnixMilli()},
				{Temperature: value(2), Humidity: value(0.2), MeasuredAt: at.Add(5 * time.Minute).UnixMilli()},
			},
		}))
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(MatchError(payload.ErrInvalid))
		Expect(stored).To(Equal(1))

		stations, err := failing.ListStations(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stations).To(BeEmpty())
	})
})
