// Package frontend provides the HTTP query API over the backend series service.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/seriesrpc"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// Error codes carried in error bodies.
const (
	CodeInvalidRequest = "invalid_request"
	CodeGapTooWide     = "gap_too_wide"
	CodeUnavailable    = "unavailable"
	CodeServerError    = "server_error"
	CodeNotFound       = "not_found"
)

var validate = validator.New()

// APIConfig holds the configuration for an API.
type APIConfig struct {
	Logger  *slog.Logger
	Client  SeriesClient
	Metrics *metrics.FrontendMetrics
	// RequestTimeout bounds each backend call. Defaults to 5s.
	RequestTimeout time.Duration
}

// API serves the query endpoints.
type API struct {
	logger  *slog.Logger
	client  SeriesClient
	metrics *metrics.FrontendMetrics
	timeout time.Duration
	mux     *http.ServeMux
}

// NewAPI creates the HTTP API.
func NewAPI(cfg *APIConfig) (*API, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("series client cannot be nil")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	a := &API{
		logger:  cfg.Logger.With(slog.String("component", "http_api")),
		client:  cfg.Client,
		metrics: cfg.Metrics,
		timeout: timeout,
	}
	a.mux = a.setupRoutes()
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", a.instrument("/health", http.HandlerFunc(a.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("GET /api/stations", a.instrument("/api/stations", http.HandlerFunc(a.handleStations)))
	mux.Handle("GET /api/stations/{id}/buckets", a.instrument("/api/stations/{id}/buckets", http.HandlerFunc(a.handleBuckets)))

	mux.Handle("/", a.instrument("unmatched", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})))

	return mux
}

// bucketsQuery holds the query parameters of the buckets endpoint.
type bucketsQuery struct {
	StationID   string    `validate:"required,max=64"`
	From        time.Time `validate:"required"`
	To          time.Time `validate:"required,gtefield=From"`
	Granularity string    `validate:"required,oneof=minute 5-minutes hour day month year"`
}

func (q *bucketsQuery) bind(r *http.Request) error {
	q.StationID = r.PathValue("id")
	q.Granularity = r.URL.Query().Get("granularity")

	var err error
	if q.From, err = parseTime(r.URL.Query().Get("dateFrom")); err != nil {
		return fmt.Errorf("dateFrom: %w", err)
	}
	if q.To, err = parseTime(r.URL.Query().Get("dateTo")); err != nil {
		return fmt.Errorf("dateTo: %w", err)
	}

	if err := validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s", verrs[0].Field())
		}
		return err
	}
	return nil
}

// parseTime accepts RFC 3339 or unix milliseconds.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, errors.New("use RFC 3339 or unix milliseconds")
}

// handleBuckets serves the reconstructed series of one station.
func (a *API) handleBuckets(w http.ResponseWriter, r *http.Request) {
	var q bucketsQuery
	if err := q.bind(r); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	g, err := timeseries.ParseGranularity(q.Granularity)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	logger := a.logger.With("station_id", q.StationID, "granularity", q.Granularity)
	logger.Debug("handling buckets request", "date_from", q.From, "date_to", q.To)

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	buckets, err := a.client.GetSeries(ctx, seriesrpc.SeriesRequest{
		StationID:   q.StationID,
		From:        q.From,
		To:          q.To,
		Granularity: g,
	})
	if err != nil {
		a.writeBackendError(w, logger, err)
		return
	}

	if buckets == nil {
		buckets = []timeseries.Bucket{}
	}
	a.writeJSON(w, http.StatusOK, buckets)
}

// handleStations serves every known station with its last activity.
func (a *API) handleStations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	stations, err := a.client.ListStations(ctx)
	if err != nil {
		a.writeBackendError(w, a.logger, err)
		return
	}

	if stations == nil {
		stations = []timeseries.Station{}
	}
	a.writeJSON(w, http.StatusOK, stations)
}

// handleHealth serves health check endpoint.
func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeBackendError maps backend failures to HTTP statuses.
func (a *API) writeBackendError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, ErrBackendUnavailable) {
		logger.Warn("backend circuit open", "error", err)
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "series backend is unavailable, please try again later")
		return
	}

	st := status.Convert(err)
	switch st.Code() {
	case codes.InvalidArgument:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, st.Message())
	case codes.FailedPrecondition:
		writeError(w, http.StatusUnprocessableEntity, CodeGapTooWide,
			"gap between stored measurements is too wide for this granularity, reduce the range or coarsen the granularity")
	case codes.Unavailable, codes.DeadlineExceeded:
		logger.Warn("backend unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "series backend is unavailable, please try again later")
	default:
		logger.Error("backend call failed", "error", err)
		writeError(w, http.StatusInternalServerError, CodeServerError, "error occurred when loading the series, please try again later")
	}
}

func (a *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
}

func writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message: message,
		Status:  httpStatus,
		Code:    code,
	}})
}
