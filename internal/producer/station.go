// Package producer simulates weather stations publishing measurement
// batches to the ingestion queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/team13Uni/wedro/pkg/generator"
	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/mq"
	"github.com/team13Uni/wedro/pkg/payload"
)

// Batch kinds, used as metric labels.
const (
	KindLive     = "live"
	KindBackfill = "backfill"
)

const slot = 5 * time.Minute

// StationProducerConfig holds the configuration for a StationProducer.
type StationProducerConfig struct {
	Publisher mq.Publisher
	Logger    *slog.Logger
	// Station is generated when nil.
	Station *generator.Station
	// Seed drives the weather model.
	Seed uint64
	// BatchSize is the number of five-minute readings per live batch. Defaults to 1.
	BatchSize int
	Metrics   *metrics.ProducerMetrics
}

// StationProducer publishes readings of one simulated station.
type StationProducer struct {
	publisher mq.Publisher
	logger    *slog.Logger
	station   *generator.Station
	weather   *generator.Weather
	batchSize int
	metrics   *metrics.ProducerMetrics
}

// NewStationProducer creates a StationProducer.
func NewStationProducer(cfg *StationProducerConfig) (*StationProducer, error) {
	if cfg == nil {
		return nil, errors.New("station producer config cannot be nil")
	}

	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if cfg.BatchSize > payload.MaxReadings {
		return nil, fmt.Errorf("batch size must not exceed %d", payload.MaxReadings)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	station := cfg.Station
	if station == nil {
		var err error
		if station, err = generator.NewStation(); err != nil {
			return nil, fmt.Errorf("failed to generate station: %w", err)
		}
		if cfg.Metrics != nil {
			cfg.Metrics.StationsGenerated.Inc()
		}
	}

	return &StationProducer{
		publisher: cfg.Publisher,
		logger: cfg.Logger.With(
			slog.String("station_id", station.StationID),
			slog.String("location_id", station.LocationID),
		),
		station:   station,
		weather:   generator.NewWeather(cfg.Seed),
		batchSize: batchSize,
		metrics:   cfg.Metrics,
	}, nil
}

// Station returns the simulated station.
func (p *StationProducer) Station() *generator.Station {
	return p.station
}

// PublishLatest publishes the BatchSize slots ending with the slot enclosing now.
func (p *StationProducer) PublishLatest(ctx context.Context, now time.Time) error {
	from := now.UTC().Truncate(slot).Add(-time.Duration(p.batchSize-1) * slot)
	return p.publish(ctx, KindLive, p.weather.Batch(p.station, from, p.batchSize))
}

// Backfill publishes one reading per slot in [from, to) in batches of up to
// payload.MaxReadings and returns the number of readings published.
func (p *StationProducer) Backfill(ctx context.Context, from, to time.Time) (int, error) {
	start := from.UTC().Truncate(slot)
	total := 0
	for start.Before(to) {
		n := int(to.Sub(start) / slot)
		if to.Sub(start)%slot != 0 {
			n++
		}
		n = min(n, payload.MaxReadings)

		if err := p.publish(ctx, KindBackfill, p.weather.Batch(p.station, start, n)); err != nil {
			return total, err
		}
		total += n
		start = start.Add(time.Duration(n) * slot)
	}

	p.logger.Info("backfill published", "readings", total, "from", from, "to", to)
	return total, nil
}

func (p *StationProducer) publish(ctx context.Context, kind string, batch payload.Batch) error {
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(kind))
		defer timer.ObserveDuration()
	}

	data, err := batch.Encode()
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(kind, "encode_error").Inc()
		}
		return fmt.Errorf("encode batch: %w", err)
	}

	if err := p.publisher.Publish(ctx, data); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(kind, "publish_error").Inc()
		}
		return fmt.Errorf("publish batch: %w", err)
	}

	if p.metrics != nil {
		p.metrics.BatchesPublished.WithLabelValues(kind).Inc()
		p.metrics.ReadingsPublished.Add(float64(len(batch.Measurements)))
	}

	p.logger.Debug("batch published", "kind", kind, "readings", len(batch.Measurements))
	return nil
}
