package generator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/pkg/generator"
)

var _ = Describe("Station", func() {
	It("should fill identity fields", func() {
		s, err := generator.NewStation()
		Expect(err).NotTo(HaveOccurred())
		Expect(s.StationID).NotTo(BeEmpty())
		Expect(s.LocationID).To(BeElementOf("roof", "garden", "garage", "attic", "cellar", "balcony"))
	})
})

var _ = Describe("Weather", func() {
	start := time.Date(2024, time.July, 1, 10, 3, 0, 0, time.UTC)

	It("should produce readings that pass batch validation", func() {
		s, err := generator.NewStation()
		Expect(err).NotTo(HaveOccurred())

		b := generator.NewWeather(42).Batch(s, start, 100)
		Expect(b.Measurements).To(HaveLen(100))
		Expect(b.Validate()).To(Succeed())
	})

	It("should align readings on five-minute slots", func() {
		b := generator.NewWeather(1).Batch(&generator.Station{StationID: "s", LocationID: "l"}, start, 3)
		Expect(b.Measurements[0].Time()).To(Equal(time.Date(2024, time.July, 1, 10, 0, 0, 0, time.UTC)))
		Expect(b.Measurements[2].Time()).To(Equal(time.Date(2024, time.July, 1, 10, 10, 0, 0, time.UTC)))
	})

	It("should be deterministic for a seed", func() {
		a := generator.NewWeather(7).Reading(start)
		b := generator.NewWeather(7).Reading(start)
		Expect(*a.Temperature).To(Equal(*b.Temperature))
		Expect(*a.Humidity).To(Equal(*b.Humidity))
	})

	It("should keep humidity a fraction", func() {
		w := generator.NewWeather(3)
		for i := 0; i < 500; i++ {
			r := w.Reading(start.Add(time.Duration(i) * time.Hour))
			Expect(*r.Humidity).To(BeNumerically(">=", 0))
			Expect(*r.Humidity).To(BeNumerically("<=", 1))
		}
	})
})
