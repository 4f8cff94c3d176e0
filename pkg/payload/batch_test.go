package payload_test

import (
	"fmt"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/pkg/payload"
)

func f(v float64) *float64 { return &v }

func validBatch() payload.Batch {
	return payload.Batch{
		StationID:  "st-1",
		LocationID: "roof",
		Measurements: []payload.Reading{
			{Temperature: f(21.5), Humidity: f(0.45), MeasuredAt: 1704067200000},
		},
	}
}

var _ = Describe("Batch", func() {
	It("should decode a valid batch", func() {
		data := `{"stationId":"st-1","locationId":"roof","granularity":"hour",
			"measurements":[{"temperature":0,"humidity":0,"measuredAt":1704067200000}]}`

		b, err := payload.Decode([]byte(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Granularity).To(Equal("hour"))
		Expect(*b.Measurements[0].Temperature).To(BeZero())
		Expect(b.Measurements[0].Time()).To(Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("should reject malformed JSON", func() {
		_, err := payload.Decode([]byte(`{"stationId":`))
		Expect(err).To(MatchError(payload.ErrInvalid))
	})

	DescribeTable("validation",
		func(mutate func(*payload.Batch), field string) {
			b := validBatch()
			mutate(&b)
			err := b.Validate()
			Expect(err).To(MatchError(payload.ErrInvalid))
			Expect(err.Error()).To(ContainSubstring(field))
		},
		Entry("missing station", func(b *payload.Batch) { b.StationID = "" }, "StationID"),
		Entry("no readings", func(b *payload.Batch) { b.Measurements = nil }, "Measurements"),
		Entry("temperature too low", func(b *payload.Batch) { b.Measurements[0].Temperature = f(-80.5) }, "Temperature"),
		Entry("temperature too high", func(b *payload.Batch) { b.Measurements[0].Temperature = f(81) }, "Temperature"),
		Entry("humidity above one", func(b *payload.Batch) { b.Measurements[0].Humidity = f(1.2) }, "Humidity"),
		Entry("missing humidity", func(b *payload.Batch) { b.Measurements[0].Humidity = nil }, "Humidity"),
		Entry("missing time", func(b *payload.Batch) { b.Measurements[0].MeasuredAt = 0 }, "MeasuredAt"),
		Entry("request-only granularity", func(b *payload.Batch) { b.Granularity = "minute" }, "Granularity"),
	)

	It("should accept the boundary values", func() {
		b := validBatch()
		b.Measurements[0].Temperature = f(-80)
		b.Measurements[0].Humidity = f(1)
		Expect(b.Validate()).To(Succeed())
	})

	It("should limit a batch to one hundred readings", func() {
		b := validBatch()
		for len(b.Measurements) < payload.MaxReadings {
			b.Measurements = append(b.Measurements, b.Measurements[0])
		}
		Expect(b.Validate()).To(Succeed())

		b.Measurements = append(b.Measurements, b.Measurements[0])
		Expect(b.Validate()).To(MatchError(ContainSubstring("Measurements")))
	})

	It("should encode readings in unix milliseconds", func() {
		data, err := validBatch().Encode()
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Contains(string(data), fmt.Sprintf(`"measuredAt":%d`, 1704067200000))).To(BeTrue())
	})
})
