package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/team13Uni/wedro/pkg/timeseries"
)

// deleteChunkSize bounds the number of bound parameters per DELETE.
const deleteChunkSize = 500

// GormStore is a timeseries.Store and timeseries.StationRegistry backed by gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over db. Migrations must already have run.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) scope(ctx context.Context, f timeseries.Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&MeasurementRecord{}).
		Where("granularity = ?", f.Granularity.String())
	if f.StationID != "" {
		q = q.Where("station_id = ?", f.StationID)
	}
	if f.LocationID != "" {
		q = q.Where("location_id = ?", f.LocationID)
	}
	if f.Range != nil {
		if !f.Range.From.IsZero() {
			q = q.Where("measured_at >= ?", f.Range.From.UTC())
		}
		if !f.Range.To.IsZero() {
			q = q.Where("measured_at <= ?", f.Range.To.UTC())
		}
	}
	return q
}

// Find returns the records matching filter ordered by time.
func (s *GormStore) Find(ctx context.Context, filter timeseries.Filter) ([]timeseries.Measurement, error) {
	var rows []MeasurementRecord
	if err := s.scope(ctx, filter).Order("measured_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}

	out := make([]timeseries.Measurement, 0, len(rows))
	for _, row := range rows {
		m, err := row.measurement()
		if err != nil {
			return nil, fmt.Errorf("measurement %s: %w", row.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Insert stores m under a new ID.
func (s *GormStore) Insert(ctx context.Context, m timeseries.Measurement) (timeseries.Measurement, error) {
	if !m.Granularity.IsStored() {
		return timeseries.Measurement{}, fmt.Errorf("cannot store %s measurements", m.Granularity)
	}

	m.ID = uuid.NewString()
	m.MeasuredAt = m.MeasuredAt.UTC()

	row := recordFromMeasurement(m)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return timeseries.Measurement{}, fmt.Errorf("failed to create measurement: %w", err)
	}
	return m, nil
}

// DeleteMany removes the records with the given IDs in one transaction.
func (s *GormStore) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(ids))
			res := tx.Where("id IN ?", ids[start:end]).Delete(&MeasurementRecord{})
			if res.Error != nil {
				return res.Error
			}
			deleted += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete measurements: %w", err)
	}
	return deleted, nil
}

// Series lists the station/location pairs holding records at tier g.
func (s *GormStore) Series(ctx context.Context, g timeseries.Granularity) ([]timeseries.SeriesKey, error) {
	var rows []struct {
		StationID  string
		LocationID string
	}
	err := s.db.WithContext(ctx).Model(&MeasurementRecord{}).
		Distinct("station_id", "location_id").
		Where("granularity = ?", g.String()).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	keys := make([]timeseries.SeriesKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, timeseries.SeriesKey{StationID: r.StationID, LocationID: r.LocationID})
	}
	return keys, nil
}

// Extent reports the earliest and latest records matching filter.
func (s *GormStore) Extent(ctx context.Context, filter timeseries.Filter) (timeseries.Extent, error) {
	var ext timeseries.Extent
	if err := s.scope(ctx, filter).Count(&ext.Count).Error; err != nil {
		return ext, fmt.Errorf("failed to count measurements: %w", err)
	}
	if ext.Count == 0 {
		return ext, nil
	}

	// Ordered reads keep time decoding in the driver; MIN/MAX come back as text on SQLite.
	var first, last MeasurementRecord
	if err := s.scope(ctx, filter).Order("measured_at ASC").Limit(1).Find(&first).Error; err != nil {
		return ext, fmt.Errorf("failed to read first measurement: %w", err)
	}
	if err := s.scope(ctx, filter).Order("measured_at DESC").Limit(1).Find(&last).Error; err != nil {
		return ext, fmt.Errorf("failed to read last measurement: %w", err)
	}
	ext.First = first.MeasuredAt.UTC()
	ext.Last = last.MeasuredAt.UTC()
	return ext, nil
}

// TouchStation upserts the last activity of key.
func (s *GormStore) TouchStation(ctx context.Context, key timeseries.SeriesKey, at time.Time) error {
	row := StationRecord{
		StationID:    key.StationID,
		LocationID:   key.LocationID,
		LastActiveAt: at.UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "station_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", key.StationID, err)
	}
	return nil
}

// ListStations returns every known station location.
func (s *GormStore) ListStations(ctx context.Context) ([]timeseries.Station, error) {
	var rows []StationRecord
	if err := s.db.WithContext(ctx).Order("station_id, location_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}

	out := make([]timeseries.Station, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.station())
	}
	return out, nil
}

var (
	_ timeseries.Store           = (*GormStore)(nil)
	_ timeseries.StationRegistry = (*GormStore)(nil)
)
