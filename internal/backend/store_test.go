package backend_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

var _ = Describe("GormStore", func() {
	var (
		ctx   context.Context
		store *backend.GormStore
		start time.Time
	)

	insert := func(station, location string, g timeseries.Granularity, at time.Time, temperature float64) timeseries.Measurement {
		m, err := store.Insert(ctx, timeseries.Measurement{
			StationID:   station,
			LocationID:  location,
			Granularity: g,
			MeasuredAt:  at,
			Temperature: temperature,
			Humidity:    0.5,
		})
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

		var err error
		store, err = backend.NewGormStore(newSQLiteDB(testLogger()))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should require a database", func() {
		s, err := backend.NewGormStore(nil)
		Expect(err).To(HaveOccurred())
		Expect(s).To(BeNil())
	})

	Describe("Insert and Find", func() {
		It("should round-trip a measurement", func() {
			m := insert("st-1", "roof", timeseries.Hour, start, 21.25)
			Expect(m.ID).NotTo(BeEmpty())

			found, err := store.Find(ctx, timeseries.Filter{StationID: "st-1", Granularity: timeseries.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].ID).To(Equal(m.ID))
			Expect(found[0].LocationID).To(Equal("roof"))
			Expect(found[0].Granularity).To(Equal(timeseries.Hour))
			Expect(found[0].MeasuredAt.Equal(start)).To(BeTrue())
			Expect(found[0].Temperature).To(Equal(21.25))
		})

		It("should reject tiers that are never stored", func() {
			_, err := store.Insert(ctx, timeseries.Measurement{StationID: "st-1", Granularity: timeseries.Minute, MeasuredAt: start})
			Expect(err).To(HaveOccurred())
		})

		It("should filter by tier, location and inclusive range", func() {
			for i := 0; i < 6; i++ {
				insert("st-1", "roof", timeseries.Hour, start.Add(time.Duration(i)*time.Hour), float64(i))
			}
			insert("st-1", "garden", timeseries.Hour, start, 0)
			insert("st-1", "roof", timeseries.Day, start, 0)

			found, err := store.Find(ctx, timeseries.Filter{
				StationID:   "st-1",
				LocationID:  "roof",
				Granularity: timeseries.Hour,
				Range:       &timeseries.Range{From: start.Add(2 * time.Hour), To: start.Add(4 * time.Hour)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(3))
			Expect(found[0].Temperature).To(Equal(2.0))
			Expect(found[2].Temperature).To(Equal(4.0))

			all, err := store.Find(ctx, timeseries.Filter{Granularity: timeseries.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(7))
		})
	})

	Describe("DeleteMany", func() {
		It("should delete only the given IDs", func() {
			var ids []string
			for i := 0; i < 3; i++ {
				ids = append(ids, insert("st-1", "roof", timeseries.FiveMinutes, start.Add(time.Duration(i)*5*time.Minute), 1).ID)
			}

			n, err := store.DeleteMany(ctx, append(ids[:2:2], "missing"))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			found, err := store.Find(ctx, timeseries.Filter{Granularity: timeseries.FiveMinutes})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
			Expect(found[0].ID).To(Equal(ids[2]))
		})

		It("should delete more IDs than one statement binds", func() {
			var ids []string
			for i := 0; i < 600; i++ {
				ids = append(ids, insert("st-1", "roof", timeseries.FiveMinutes, start.Add(time.Duration(i)*5*time.Minute), 1).ID)
			}

			n, err := store.DeleteMany(ctx, ids)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(600)))
		})

		It("should accept an empty list", func() {
			n, err := store.DeleteMany(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})

	Describe("Series and Extent", func() {
		It("should list distinct series per tier", func() {
			insert("st-1", "roof", timeseries.FiveMinutes, start, 1)
			insert("st-1", "roof", timeseries.FiveMinutes, start.Add(5*time.Minute), 1)
			insert("st-1", "garden", timeseries.FiveMinutes, start, 1)
			insert("st-2", "roof", timeseries.Hour, start, 1)

			keys, err := store.Series(ctx, timeseries.FiveMinutes)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(ConsistOf(
				timeseries.SeriesKey{StationID: "st-1", LocationID: "roof"},
				timeseries.SeriesKey{StationID: "st-1", LocationID: "garden"},
			))
		})

		It("should report first, last and count", func() {
			for i := 0; i < 4; i++ {
				insert("st-1", "roof", timeseries.Hour, start.Add(time.Duration(i)*time.Hour), 1)
			}

			ext, err := store.Extent(ctx, timeseries.Filter{StationID: "st-1", LocationID: "roof", Granularity: timeseries.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Count).To(Equal(int64(4)))
			Expect(ext.First.Equal(start)).To(BeTrue())
			Expect(ext.Last.Equal(start.Add(3 * time.Hour))).To(BeTrue())
		})

		It("should report an empty extent", func() {
			ext, err := store.Extent(ctx, timeseries.Filter{StationID: "none", Granularity: timeseries.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(ext.Count).To(BeZero())
			Expect(ext.First.IsZero()).To(BeTrue())
		})
	})

	Describe("stations", func() {
		It("should upsert the last activity", func() {
			key := timeseries.SeriesKey{StationID: "st-1", LocationID: "roof"}
			Expect(store.TouchStation(ctx, key, start)).To(Succeed())
			Expect(store.TouchStation(ctx, key, start.Add(time.Hour))).To(Succeed())
			Expect(store.TouchStation(ctx, timeseries.SeriesKey{StationID: "st-0", LocationID: "garden"}, start)).To(Succeed())

			stations, err := store.ListStations(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stations).To(HaveLen(2))
			Expect(stations[0].StationID).To(Equal("st-0"))
			Expect(stations[1].LastActiveAt.Equal(start.Add(time.Hour))).To(BeTrue())
		})
	})

	Describe("with the rollup engine", func() {
		It("should roll a full day of hours into one day record", func() {
			for i := 0; i < 24; i++ {
				insert("st-1", "roof", timeseries.Hour, start.Add(time.Duration(i)*time.Hour), float64(i))
			}

			d, err := timeseries.NewDownsampler(&timeseries.DownsamplerConfig{
				Store:  store,
				Logger: testLogger(),
				Now:    func() time.Time { return start.AddDate(0, 0, 1).Add(time.Minute) },
			})
			Expect(err).NotTo(HaveOccurred())

			created, err := d.RollUp(ctx, timeseries.Day)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(created[0].Temperature).To(BeNumerically("~", 11.5, 1e-9))

			hours, err := store.Find(ctx, timeseries.Filter{Granularity: timeseries.Hour})
			Expect(err).NotTo(HaveOccurred())
			Expect(hours).To(HaveLen(24))
		})
	})
})
