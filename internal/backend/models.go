// Package backend provides the backend service: measurement storage,
// ingestion from RabbitMQ and MQTT, scheduled rollups, and the gRPC
// series API used by the frontend.
package backend

import (
	"time"

	"github.com/team13Uni/wedro/pkg/timeseries"
)

// MeasurementRecord is a stored measurement row.
type MeasurementRecord struct {
	MeasuredAt  time.Time `gorm:"index:idx_series_tier_time,priority:4;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	ID          string    `gorm:"primaryKey;size:36"`
	StationID   string    `gorm:"index:idx_series_tier_time,priority:1;size:64;not null"`
	LocationID  string    `gorm:"index:idx_series_tier_time,priority:2;size:64;not null"`
	Granularity string    `gorm:"index:idx_series_tier_time,priority:3;size:16;not null"`
	Temperature float64   `gorm:"not null"`
	Humidity    float64   `gorm:"not null"`
}

// TableName specifies the table name for MeasurementRecord.
func (MeasurementRecord) TableName() string {
	return "measurements"
}

func recordFromMeasurement(m timeseries.Measurement) MeasurementRecord {
	return MeasurementRecord{
		ID:          m.ID,
		StationID:   m.StationID,
		LocationID:  m.LocationID,
		Granularity: m.Granularity.String(),
		MeasuredAt:  m.MeasuredAt.UTC(),
		Temperature: m.Temperature,
		Humidity:    m.Humidity,
	}
}

func (r MeasurementRecord) measurement() (timeseries.Measurement, error) {
	g, err := timeseries.ParseGranularity(r.Granularity)
	if err != nil {
		return timeseries.Measurement{}, err
	}
	return timeseries.Measurement{
		ID:          r.ID,
		StationID:   r.StationID,
		LocationID:  r.LocationID,
		Granularity: g,
		MeasuredAt:  r.MeasuredAt.UTC(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}, nil
}

// StationRecord tracks the last time a station location reported.
type StationRecord struct {
	LastActiveAt time.Time `gorm:"index:idx_last_active;not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
	StationID    string    `gorm:"primaryKey;size:64"`
	LocationID   string    `gorm:"primaryKey;size:64"`
}

// TableName specifies the table name for StationRecord.
func (StationRecord) TableName() string {
	return "stations"
}

func (r StationRecord) station() timeseries.Station {
	return timeseries.Station{
		StationID:    r.StationID,
		LocationID:   r.LocationID,
		LastActiveAt: r.LastActiveAt.UTC(),
	}
}
