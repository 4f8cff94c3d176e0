package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// SeriesService implements seriesrpc.SeriesServer over a Reconstructor.
type SeriesService struct {
	logger        *slog.Logger
	reconstructor *timeseries.Reconstructor
	stations      timeseries.StationRegistry
	metrics       *metrics.BackendMetrics // Optional metrics
}

// NewSeriesService creates a SeriesService.
func NewSeriesService(logger *slog.Logger, reconstructor *timeseries.Reconstructor, stations timeseries.StationRegistry, m *metrics.BackendMetrics) (*SeriesService, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if reconstructor == nil {
		return nil, errors.New("reconstructor cannot be nil")
	}

	if stations == nil {
		return nil, errors.New("station registry cannot be nil")
	}

	return &SeriesService{
		logger:        logger.With(slog.String("component", "series_service")),
		reconstructor: reconstructor,
		stations:      stations,
		metrics:       m,
	}, nil
}

// track records in-flight, duration and outcome metrics for one call and
// returns the function that completes it.
func (s *SeriesService) track(method string) func(err error) {
	if s.metrics == nil {
		return func(error) {}
	}

	s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Inc()
	timer := prometheus.NewTimer(s.metrics.GRPCRequestDuration.WithLabelValues(method))
	return func(err error) {
		timer.ObserveDuration()
		s.metrics.GRPCRequestsInFlight.WithLabelValues(method).Dec()
		result := metrics.StatusSuccess
		if err != nil {
			result = metrics.StatusError
		}
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, result).Inc()
	}
}

// GetSeries reconstructs the bucket series described by req.
func (s *SeriesService) GetSeries(ctx context.Context, req *structpb.Struct) (resp *structpb.Struct, err error) {
	done := s.track("GetSeries")
	defer func() { done(err) }()

	parsed, err := seriesrpc.ParseSeriesRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	logger := s.logger.With(
		"station_id", parsed.StationID,
		"granularity", parsed.Granularity.String(),
	)
	logger.Debug("GetSeries called", "date_from", parsed.From, "date_to", parsed.To)

	buckets, err := s.reconstructor.Reconstruct(ctx, parsed.From, parsed.To, parsed.Granularity, parsed.StationID)
	if err != nil {
		code := statusCode(err)
		if code == codes.Internal {
			logger.Error("failed to reconstruct series", "error", err)
		} else {
			logger.Info("rejected series request", "error", err)
		}
		return nil, status.Error(code, err.Error())
	}

	logger.Debug("series reconstructed", "buckets", len(buckets))
	return seriesrpc.EncodeBuckets(buckets), nil
}

// ListStations returns every known station location.
func (s *SeriesService) ListStations(ctx context.Context, _ *structpb.Struct) (resp *structpb.Struct, err error) {
	done := s.track("ListStations")
	defer func() { done(err) }()

	stations, err := s.stations.ListStations(ctx)
	if err != nil {
		s.logger.Error("failed to list stations", "error", err)
		return nil, status.Error(codes.Internal, "failed to list stations")
	}

	s.logger.Debug("listed stations", "count", len(stations))
	return seriesrpc.EncodeStations(stations), nil
}

// statusCode maps engine errors to gRPC codes.
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, timeseries.ErrInvalidRange),
		errors.Is(err, timeseries.ErrUnknownGranularity):
		return codes.InvalidArgument
	case errors.Is(err, timeseries.ErrGapTooWide):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

var _ seriesrpc.SeriesServer = (*SeriesService)(nil)
