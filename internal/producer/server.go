package producer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/mq"
)

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the name of the queue to publish measurement batches to
	QueueName string
	// QueueDurable declares a durable queue and publishes persistent messages
	QueueDurable bool
	// DryRun ingests into an in-memory store instead of RabbitMQ
	DryRun bool
	// StationCount is the number of simulated stations
	StationCount int
	// Interval is the time between live batches
	Interval time.Duration
	// BatchSize is the number of five-minute readings per live batch
	BatchSize int
	// Backfill publishes this much history per station before going live
	Backfill time.Duration
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// Now defaults to time.Now
	Now func() time.Time
}

// Server runs a fleet of simulated stations.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	stations   []*StationProducer
	publishers []mq.Publisher
	dryRun     *IngestPublisher
	wg         sync.WaitGroup
	closeOnce  sync.Once
	metrics    *metrics.ProducerMetrics
	now        func() time.Time
}

var (
	errInvalidStationCount = errors.New("station count must be greater than 0")
	errInvalidInterval     = errors.New("interval must be greater than 0")
	errLoggerRequired      = errors.New("logger is required")
	errQueueRequired       = errors.New("rabbitmq url and queue name are required unless dry run is set")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.StationCount <= 0 {
		return nil, errInvalidStationCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	if !cfg.DryRun && (cfg.RabbitMQURL == "" || cfg.QueueName == "") {
		return nil, errQueueRequired
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		config:     cfg,
		stations:   make([]*StationProducer, 0, cfg.StationCount),
		publishers: make([]mq.Publisher, 0, cfg.StationCount),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        now,
	}

	if cfg.DryRun {
		dry, err := NewIngestPublisher(cfg.Logger)
		if err != nil {
			return nil, err
		}
		s.dryRun = dry
	}

	for i := range cfg.StationCount {
		publisher, err := s.newPublisher(i)
		if err != nil {
			return nil, errors.Join(err, s.Shutdown())
		}
		s.publishers = append(s.publishers, publisher)

		station, err := NewStationProducer(&StationProducerConfig{
			Publisher: publisher,
			Logger:    cfg.Logger.With(slog.Int("producer_id", i)),
			Seed:      uint64(now().UnixNano()) + uint64(i),
			BatchSize: cfg.BatchSize,
			Metrics:   cfg.Metrics,
		})
		if err != nil {
			return nil, errors.Join(err, s.Shutdown())
		}
		s.stations = append(s.stations, station)

		s.logger.Info("created station producer",
			"producer_id", i,
			"queue", cfg.QueueName,
			"station_id", station.Station().StationID,
			"location_id", station.Station().LocationID,
		)
	}

	return s, nil
}

func (s *Server) newPublisher(id int) (mq.Publisher, error) {
	if s.dryRun != nil {
		return s.dryRun, nil
	}
	return mq.New(&mq.Config{
		URL:     s.config.RabbitMQURL,
		Queue:   s.config.QueueName,
		Durable: s.config.QueueDurable,
		Logger: s.config.Logger.With(
			slog.String("component", "mq-client"),
			slog.Int("producer_id", id),
		),
		Metrics: s.config.MQMetrics,
	})
}

// Stations returns the simulated stations.
func (s *Server) Stations() []*StationProducer {
	return s.stations
}

// DryRunPublisher returns the in-memory publisher, or nil unless DryRun is set.
func (s *Server) DryRunPublisher() *IngestPublisher {
	return s.dryRun
}

// Run starts all stations and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	for i, station := range s.stations {
		s.wg.Add(1)
		go s.runStation(ctx, i, station)
	}

	s.logger.Info("producer server started",
		"station_count", len(s.stations),
		"interval", s.config.Interval,
		"dry_run", s.config.DryRun,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for stations to shut down...")
	s.wg.Wait()

	if s.dryRun != nil {
		s.logger.Info("dry run finished", "measurements", s.dryRun.Store().Len())
	}

	return s.Shutdown()
}

// runStation optionally backfills history, then publishes a batch every interval.
func (s *Server) runStation(ctx context.Context, id int, station *StationProducer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveStations.Inc()
		defer s.metrics.ActiveStations.Dec()
	}

	logger := s.logger.With(slog.Int("producer_id", id))
	logger.Info("station started")

	if s.config.Backfill > 0 {
		now := s.now()
		if _, err := station.Backfill(ctx, now.Add(-s.config.Backfill), now.Truncate(slot)); err != nil {
			logger.Error("backfill failed", "error", err)
		}
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("station shutting down")
			return

		case <-ticker.C:
			if err := station.PublishLatest(ctx, s.now()); err != nil {
				logger.Error("failed to publish batch", "error", err)
				continue
			}
		}
	}
}

// Shutdown closes all publishers. Close failures are logged; publishers
// that never connected report one. It is safe to call more than once.
func (s *Server) Shutdown() error {
	s.closeOnce.Do(func() {
		s.logger.Info("closing publishers...")

		var wg sync.WaitGroup
		for i, p := range s.publishers {
			wg.Add(1)
			go func(id int, p mq.Publisher) {
				defer wg.Done()
				if err := p.Close(); err != nil {
					s.logger.Warn("failed to close publisher", "producer_id", id, "error", err)
					return
				}
				s.logger.Debug("publisher closed", "producer_id", id)
			}(i, p)
		}
		wg.Wait()
		s.logger.Info("producer server stopped")
	})
	return nil
}
