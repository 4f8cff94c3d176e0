package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/mq"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/storage/badger"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// Storage backends.
const (
	StoreGorm   = "gorm"
	StoreBadger = "badger"
)

const badgerGCSchedule = "*/15 * * * *"

// Server runs the backend: storage, ingestion, rollups and the gRPC series API.
type Server struct {
	logger        *slog.Logger
	config        *ServerConfig
	db            *gorm.DB
	kv            *badger.Store
	store         timeseries.Store
	stations      timeseries.StationRegistry
	mqClient      *mq.Client
	consumer      *Consumer
	mqtt          *MQTTSubscriber
	scheduler     *Scheduler
	grpcServer    *grpc.Server
	metricsServer *http.Server
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Store selects StoreGorm (default) or StoreBadger.
	Store      string
	DB         *DBConfig
	BadgerPath string

	// RabbitMQ ingestion. Disabled when RabbitMQURL is empty.
	RabbitMQURL  string
	QueueName    string
	QueueDurable bool

	// MQTT ingestion. Disabled when MQTTBroker is empty.
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      byte

	GRPCPort int
	// MetricsPort serves /metrics when positive.
	MetricsPort int

	// Schedules overrides DefaultSchedules per tier.
	Schedules     map[timeseries.Granularity]string
	RollupTimeout time.Duration
	PruneTiers    []timeseries.Granularity

	// Optional metrics. Create them once per process.
	Metrics      *metrics.BackendMetrics
	RollupStats  *metrics.RollupMetrics
	QueryStats   *metrics.QueryMetrics
	QueueMetrics *metrics.MQMetrics
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	switch cfg.Store {
	case "", StoreGorm:
		if cfg.DB == nil {
			return nil, errors.New("database config cannot be nil")
		}
		if driverName(cfg.DB.Driver) == DriverPostgres {
			if cfg.DB.Host == "" {
				return nil, errors.New("database host cannot be empty")
			}
			if cfg.DB.Port <= 0 {
				return nil, errors.New("database port must be positive")
			}
			if cfg.DB.User == "" {
				return nil, errors.New("database user cannot be empty")
			}
			if cfg.DB.DBName == "" {
				return nil, errors.New("database name cannot be empty")
			}
		}
	case StoreBadger:
		if cfg.BadgerPath == "" {
			return nil, errors.New("badger path cannot be empty")
		}
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}

	if cfg.RabbitMQURL != "" && cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	if err := s.openStore(); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	reconstructor, err := timeseries.NewReconstructor(s.store, s.logger)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to initialize reconstructor: %w", err), s.Shutdown())
	}
	reconstructor.SetMetrics(s.config.QueryStats)

	if err := s.startIngestion(ctx); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	if err := s.startScheduler(); err != nil {
		return errors.Join(err, s.Shutdown())
	}

	seriesService, err := NewSeriesService(s.logger, reconstructor, s.stations, s.config.Metrics)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to initialize gRPC service: %w", err), s.Shutdown())
	}

	s.grpcServer = grpc.NewServer()
	seriesrpc.RegisterSeriesServer(s.grpcServer, seriesService)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(seriesrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on %s: %w", grpcAddr, err), s.Shutdown())
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)

	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	if s.config.MetricsPort > 0 {
		s.startMetricsServer(serveErr)
	}

	var consumerDone <-chan struct{}
	if s.consumer != nil {
		consumerDone = s.consumer.Done()
	}

	s.logger.Info("backend server started successfully")

	var runErr error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		runErr = err
	case <-consumerDone:
		runErr = errors.New("consumer stopped unexpectedly")
		s.logger.Error("consumer stopped", "error", runErr)
	}
	cancel()

	return errors.Join(runErr, s.Shutdown())
}

func (s *Server) openStore() error {
	if s.config.Store == StoreBadger {
		kv, err := badger.New(badger.Config{Path: s.config.BadgerPath})
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		s.kv = kv
		s.store = kv
		s.stations = kv
		s.logger.Info("badger store opened", "path", s.config.BadgerPath)
		return nil
	}

	dbCfg := *s.config.DB
	dbCfg.Logger = s.logger
	db, err := NewDB(&dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	store, err := NewGormStore(db)
	if err != nil {
		return err
	}
	s.store = store
	s.stations = store

	s.logger.Info("database initialized successfully")
	return nil
}

func (s *Server) startIngestion(ctx context.Context) error {
	ingestor, err := NewIngestor(&IngestorConfig{
		Store:    s.store,
		Stations: s.stations,
		Logger:   s.logger,
		Metrics:  s.config.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize ingestor: %w", err)
	}

	if s.config.RabbitMQURL != "" {
		client, err := mq.New(&mq.Config{
			URL:     s.config.RabbitMQURL,
			Queue:   s.config.QueueName,
			Durable: s.config.QueueDurable,
			Logger:  s.logger,
			Metrics: s.config.QueueMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to create mq client: %w", err)
		}
		s.mqClient = client

		consumer, err := NewConsumer(&ConsumerConfig{
			Logger:   s.logger,
			Ingestor: ingestor,
			Client:   client,
			Metrics:  s.config.Metrics,
			Broker:   s.config.QueueMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		s.consumer = consumer
	}

	if s.config.MQTTBroker != "" {
		clientID := s.config.MQTTClientID
		if clientID == "" {
			clientID = fmt.Sprintf("wedro-backend-%d", os.Getpid())
		}
		sub, err := NewMQTTSubscriber(&MQTTConfig{
			Logger:   s.logger,
			Ingestor: ingestor,
			Broker:   s.config.MQTTBroker,
			ClientID: clientID,
			Topic:    s.config.MQTTTopic,
			Username: s.config.MQTTUsername,
			Password: s.config.MQTTPassword,
			QoS:      s.config.MQTTQoS,
			Metrics:  s.config.QueueMetrics,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt subscriber: %w", err)
		}
		s.mqtt = sub

		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := sub.Connect(connectCtx); err != nil {
			return fmt.Errorf("failed to connect mqtt subscriber: %w", err)
		}
	}

	if s.consumer == nil && s.mqtt == nil {
		s.logger.Warn("no ingestion transport configured")
	}
	return nil
}

func (s *Server) startScheduler() error {
	downsampler, err := timeseries.NewDownsampler(&timeseries.DownsamplerConfig{
		Store:      s.store,
		Logger:     s.logger,
		PruneTiers: s.config.PruneTiers,
		Metrics:    s.config.RollupStats,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize downsampler: %w", err)
	}

	scheduler, err := NewScheduler(&SchedulerConfig{
		Rollup:     downsampler,
		Logger:     s.logger,
		Metrics:    s.config.Metrics,
		Schedules:  s.config.Schedules,
		JobTimeout: s.config.RollupTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	if s.kv != nil {
		kv := s.kv
		if err := scheduler.AddTask("badger-gc", badgerGCSchedule, func(context.Context) error {
			return kv.RunGC(0.5)
		}); err != nil {
			return err
		}
	}

	s.scheduler = scheduler
	s.scheduler.Start()
	return nil
}

// RollUpOnce opens the store, runs one downsampling pass into tier and
// closes the store again.
func (s *Server) RollUpOnce(ctx context.Context, tier timeseries.Granularity) ([]timeseries.Measurement, error) {
	if err := s.openStore(); err != nil {
		return nil, errors.Join(err, s.Shutdown())
	}

	downsampler, err := timeseries.NewDownsampler(&timeseries.DownsamplerConfig{
		Store:      s.store,
		Logger:     s.logger,
		PruneTiers: s.config.PruneTiers,
		Metrics:    s.config.RollupStats,
	})
	if err != nil {
		return nil, errors.Join(err, s.Shutdown())
	}

	created, err := downsampler.RollUp(ctx, tier)
	return created, errors.Join(err, s.Shutdown())
}

func (s *Server) startMetricsServer(serveErr chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	s.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting metrics server", "address", s.metricsServer.Addr)
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
}

// Shutdown stops every started component in reverse order.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var shutdownErr error

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("metrics server shutdown error: %w", err))
		}
		cancel()
	}

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("consumer shutdown error: %w", err))
		}
	} else if s.mqClient != nil {
		if err := s.mqClient.Close(); err != nil {
			s.logger.Warn("failed to close mq client", "error", err)
		}
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("database close error: %w", err))
		}
	}

	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			s.logger.Error("failed to close badger store", "error", err)
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("badger close error: %w", err))
		}
	}

	if shutdownErr != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}
