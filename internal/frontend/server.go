package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
)

const shutdownTimeout = 10 * time.Second

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTPPort of the query API; 0 picks a free port, see Server.Addr.
	HTTPPort int

	// BackendGRPCAddr is the SeriesService address, host:port.
	BackendGRPCAddr string
	RequestTimeout  time.Duration
	Breaker         BreakerConfig

	Metrics *metrics.FrontendMetrics
}

// Server serves the query API and owns the connection to the backend.
type Server struct {
	logger *slog.Logger
	port   int
	conn   *grpc.ClientConn
	http   *http.Server

	listening chan struct{}
	addr      net.Addr

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer wires the API to a breaker-guarded backend client. The gRPC
// connection is established lazily on the first query.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}

	if cfg.BackendGRPCAddr == "" {
		return nil, errors.New("backend gRPC address cannot be empty")
	}

	conn, err := grpc.NewClient(cfg.BackendGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("invalid backend address %q: %w", cfg.BackendGRPCAddr, err)
	}

	api, err := NewAPI(&APIConfig{
		Logger:         cfg.Logger,
		Client:         NewBreakerClient(seriesrpc.NewClient(conn), cfg.Breaker, cfg.Metrics),
		Metrics:        cfg.Metrics,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	return &Server{
		logger: cfg.Logger,
		port:   cfg.HTTPPort,
		conn:   conn,
		http: &http.Server{
			Handler:           api,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		listening: make(chan struct{}),
	}, nil
}

// Listening is closed once the HTTP listener is bound.
func (s *Server) Listening() <-chan struct{} {
	return s.listening
}

// Addr is the bound HTTP address, nil until Listening is closed.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.listening:
		return s.addr
	default:
		return nil
	}
}

// Run serves the query API until ctx ends or a termination signal arrives.
func (s *Server) Run(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on port %d: %w", s.port, err), s.Shutdown())
	}
	s.addr = lis.Addr()
	close(s.listening)

	serveErr := make(chan error, 1)
	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	s.logger.Info("query API listening", "address", s.addr.String())

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		if err != nil {
			s.logger.Error("HTTP server failed", "error", err)
			return errors.Join(fmt.Errorf("HTTP server error: %w", err), s.Shutdown())
		}
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests and closes the backend connection.
// Later calls return the first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down frontend server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend connection close: %w", err))
		}

		s.shutdownErr = errors.Join(errs...)
		if s.shutdownErr != nil {
			s.logger.Error("frontend server shutdown completed with errors", "error", s.shutdownErr)
			return
		}
		s.logger.Info("frontend server stopped")
	})
	return s.shutdownErr
}
