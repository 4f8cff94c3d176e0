package frontend

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// ErrBackendUnavailable is returned while the circuit to the backend is open.
var ErrBackendUnavailable = errors.New("backend unavailable")

// SeriesClient is the backend API the HTTP handlers depend on.
type SeriesClient interface {
	GetSeries(ctx context.Context, req seriesrpc.SeriesRequest) ([]timeseries.Bucket, error)
	ListStations(ctx context.Context) ([]timeseries.Station, error)
}

// BreakerConfig tunes the circuit breaker around backend calls.
type BreakerConfig struct {
	// MaxRequests may pass while half-open. Defaults to 3.
	MaxRequests uint32
	// Interval resets the closed-state counts. Defaults to 1 minute.
	Interval time.Duration
	// Timeout is how long the circuit stays open. Defaults to 30s.
	Timeout time.Duration
	// ConsecutiveFailures trips the circuit. Defaults to 5.
	ConsecutiveFailures uint32
}

// BreakerClient guards a seriesrpc.Client with a circuit breaker. Only
// transport and server failures count against the backend.
type BreakerClient struct {
	client  *seriesrpc.Client
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.FrontendMetrics
}

// NewBreakerClient wraps client. m may be nil.
func NewBreakerClient(client *seriesrpc.Client, cfg BreakerConfig, m *metrics.FrontendMetrics) *BreakerClient {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	b := &BreakerClient{client: client, metrics: m}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "series-backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, _, to gobreaker.State) {
			if m != nil {
				m.BreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return b
}

// GetSeries implements SeriesClient.
func (b *BreakerClient) GetSeries(ctx context.Context, req seriesrpc.SeriesRequest) ([]timeseries.Bucket, error) {
	out, err := b.execute("GetSeries", func() (any, error) {
		return b.client.GetSeries(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.([]timeseries.Bucket), nil
}

// ListStations implements SeriesClient.
func (b *BreakerClient) ListStations(ctx context.Context) ([]timeseries.Station, error) {
	out, err := b.execute("ListStations", func() (any, error) {
		return b.client.ListStations(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]timeseries.Station), nil
}

// State reports the breaker state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) execute(method string, call func() (any, error)) (any, error) {
	start := time.Now()
	out, err := b.cb.Execute(call)

	if b.metrics != nil {
		b.metrics.GRPCClientDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		b.metrics.GRPCClientCalls.WithLabelValues(method, status.Code(err).String()).Inc()
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrBackendUnavailable, err)
	}
	return out, err
}

// countsAsSuccess keeps client-side rejections from tripping the breaker.
func countsAsSuccess(err error) bool {
	switch status.Code(err) {
	case codes.OK, codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.Canceled:
		return true
	default:
		return false
	}
}

var _ SeriesClient = (*BreakerClient)(nil)
