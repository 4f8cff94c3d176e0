package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/payload"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// Ingestion transports, used as metric and log labels.
const (
	TransportAMQP = "amqp"
	TransportMQTT = "mqtt"
)

// IngestorConfig holds the configuration for an Ingestor.
type IngestorConfig struct {
	Store    timeseries.Store
	Stations timeseries.StationRegistry
	Logger   *slog.Logger
	Metrics  *metrics.BackendMetrics
	Now      func() time.Time
}

// Ingestor validates measurement batches and writes them to the store.
type Ingestor struct {
	store    timeseries.Store
	stations timeseries.StationRegistry
	logger   *slog.Logger
	metrics  *metrics.BackendMetrics
	now      func() time.Time
}

// NewIngestor creates an Ingestor.
func NewIngestor(cfg *IngestorConfig) (*Ingestor, error) {
	if cfg == nil {
		return nil, errors.New("ingestor config cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Stations == nil {
		return nil, errors.New("station registry cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Ingestor{
		store:    cfg.Store,
		stations: cfg.Stations,
		logger:   cfg.Logger.With(slog.String("component", "ingestor")),
		metrics:  cfg.Metrics,
		now:      now,
	}, nil
}

// Ingest decodes one JSON batch and stores its readings truncated to the
// batch tier. Errors wrapping payload.ErrInvalid mean the message can never
// succeed; any other error is transient.
func (i *Ingestor) Ingest(ctx context.Context, transport string, data []byte) (int, error) {
	if i.metrics != nil {
		timer := prometheus.NewTimer(i.metrics.IngestDuration.WithLabelValues(transport))
		defer timer.ObserveDuration()
	}

	stored, err := i.ingest(ctx, data)
	if i.metrics != nil {
		status := metrics.StatusSuccess
		switch {
		case errors.Is(err, payload.ErrInvalid):
			status = "invalid"
		case err != nil:
			status = metrics.StatusError
		}
		i.metrics.IngestMessagesTotal.WithLabelValues(transport, status).Inc()
	}
	return stored, err
}

func (i *Ingestor) ingest(ctx context.Context, data []byte) (int, error) {
	batch, err := payload.Decode(data)
	if err != nil {
		return 0, err
	}

	tier := timeseries.FiveMinutes
	if batch.Granularity != "" {
		tier, err = timeseries.ParseGranularity(batch.Granularity)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", payload.ErrInvalid, err)
		}
	}

	for n, r := range batch.Measurements {
		_, err := i.store.Insert(ctx, timeseries.Measurement{
			StationID:   batch.StationID,
			LocationID:  batch.LocationID,
			Granularity: tier,
			MeasuredAt:  tier.Truncate(r.Time()),
			Temperature: *r.Temperature,
			Humidity:    *r.Humidity,
		})
		if err != nil {
			return n, fmt.Errorf("store reading %d of station %s: %w", n, batch.StationID, err)
		}
	}

	if i.metrics != nil {
		i.metrics.IngestMeasurementsTotal.WithLabelValues(tier.String()).Add(float64(len(batch.Measurements)))
	}

	key := timeseries.SeriesKey{StationID: batch.StationID, LocationID: batch.LocationID}
	if err := i.stations.TouchStation(ctx, key, i.now()); err != nil {
		return len(batch.Measurements), err
	}

	i.logger.Debug("batch stored",
		"station_id", batch.StationID,
		"location_id", batch.LocationID,
		"granularity", tier.String(),
		"count", len(batch.Measurements),
	)
	return len(batch.Measurements), nil
}
