// Package generator simulates weather stations producing plausible
// temperature and humidity readings.
package generator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/team13Uni/wedro/pkg/payload"
)

// Station describes a simulated station.
type Station struct {
	StationID  string  `fake:"{uuid}"`
	LocationID string  `fake:"{randomstring:[roof,garden,garage,attic,cellar,balcony]}"`
	Name       string  `fake:"{city}"`
	Latitude   float64 `fake:"{latitude}"`
	Longitude  float64 `fake:"{longitude}"`
}

// NewStation returns a station with randomized identity.
func NewStation() (*Station, error) {
	var s Station
	if err := gofakeit.Struct(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Weather produces readings following a daily cycle with noise and
// occasional anomalies.
type Weather struct {
	rng              *rand.Rand
	baselineTemp     float64
	baselineHumidity float64
	noise            float64
}

// NewWeather creates a weather model. The same seed yields the same readings.
func NewWeather(seed uint64) *Weather {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return &Weather{
		rng:              rng,
		baselineTemp:     5 + rng.Float64()*15,    // 5-20°C
		baselineHumidity: 0.5 + rng.Float64()*0.2, // 50-70%
		noise:            rng.Float64() * 2,
	}
}

// Temperature at t, peaking mid-afternoon.
func (w *Weather) Temperature(t time.Time) float64 {
	hour := float64(t.UTC().Hour()) + float64(t.UTC().Minute())/60
	daily := 5 * math.Sin((hour-9)*math.Pi/12)
	noise := (w.rng.Float64() - 0.5) * w.noise

	anomaly := 0.0
	if w.rng.Float64() < 0.02 {
		anomaly = (w.rng.Float64() - 0.5) * 10
	}
	return clamp(w.baselineTemp+daily+noise+anomaly, -80, 80)
}

// Humidity at t as a fraction, inversely correlated with temperature.
func (w *Weather) Humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.UTC().Hour())
	daily := -0.03 * math.Sin((hour-9)*math.Pi/12)
	tempEffect := -(temperature - w.baselineTemp) * 0.015
	noise := (w.rng.Float64() - 0.5) * w.noise * 0.005

	rain := 0.0
	if w.rng.Float64() < 0.03 {
		rain = w.rng.Float64() * 0.2
	}
	return clamp(w.baselineHumidity+daily+tempEffect+noise+rain, 0.05, 1)
}

// Reading returns a correlated reading measured at t.
func (w *Weather) Reading(t time.Time) payload.Reading {
	temperature := round(w.Temperature(t), 2)
	humidity := round(w.Humidity(t, temperature), 3)
	return payload.Reading{
		Temperature: &temperature,
		Humidity:    &humidity,
		MeasuredAt:  t.UTC().UnixMilli(),
	}
}

// Batch returns n readings for s, one per five-minute slot starting at the
// slot enclosing from.
func (w *Weather) Batch(s *Station, from time.Time, n int) payload.Batch {
	start := from.UTC().Truncate(5 * time.Minute)
	readings := make([]payload.Reading, 0, n)
	for i := 0; i < n; i++ {
		readings = append(readings, w.Reading(start.Add(time.Duration(i)*5*time.Minute)))
	}
	return payload.Batch{
		StationID:    s.StationID,
		LocationID:   s.LocationID,
		Measurements: readings,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
