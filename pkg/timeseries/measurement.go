package timeseries

import (
	"context"
	"time"
)

// Measurement is one stored reading or aggregate.
type Measurement struct {
	MeasuredAt  time.Time   `json:"measuredAt"`
	ID          string      `json:"id"`
	StationID   string      `json:"stationId"`
	LocationID  string      `json:"locationId"`
	Granularity Granularity `json:"granularity"`
	Temperature float64     `json:"temperature"`
	Humidity    float64     `json:"humidity"`
}

// Key returns the series the measurement belongs to.
func (m Measurement) Key() SeriesKey {
	return SeriesKey{StationID: m.StationID, LocationID: m.LocationID}
}

// SeriesKey identifies one station/location series.
type SeriesKey struct {
	StationID  string
	LocationID string
}

// Range is an inclusive time range. A zero bound is open.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies within the range.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filter selects measurements of a single tier. Empty IDs match any value.
type Filter struct {
	Range       *Range
	StationID   string
	LocationID  string
	Granularity Granularity
}

// Matches reports whether m satisfies the filter.
func (f Filter) Matches(m Measurement) bool {
	if m.Granularity != f.Granularity {
		return false
	}
	if f.StationID != "" && m.StationID != f.StationID {
		return false
	}
	if f.LocationID != "" && m.LocationID != f.LocationID {
		return false
	}
	if f.Range != nil && !f.Range.Contains(m.MeasuredAt) {
		return false
	}
	return true
}

// Extent summarizes the records matching a filter.
type Extent struct {
	First time.Time
	Last  time.Time
	Count int64
}

// Store persists measurements. Find results are unordered.
type Store interface {
	Find(ctx context.Context, filter Filter) ([]Measurement, error)
	Insert(ctx context.Context, m Measurement) (Measurement, error)
	DeleteMany(ctx context.Context, ids []string) (int64, error)

	// Series lists the distinct series holding records at tier g.
	Series(ctx context.Context, g Granularity) ([]SeriesKey, error)
	// Extent reports the first and last MeasuredAt of matching records.
	Extent(ctx context.Context, filter Filter) (Extent, error)
}

// Station is the last reported activity of one station location.
type Station struct {
	LastActiveAt time.Time `json:"lastActiveAt"`
	StationID    string    `json:"stationId"`
	LocationID   string    `json:"locationId"`
}

// StationRegistry records station activity.
type StationRegistry interface {
	TouchStation(ctx context.Context, key SeriesKey, at time.Time) error
	ListStations(ctx context.Context) ([]Station, error)
}
