package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/team13Uni/wedro/pkg/metrics"
)

// DownsamplerConfig holds the configuration for a Downsampler.
type DownsamplerConfig struct {
	Store  Store
	Logger *slog.Logger
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
	// PruneTiers lists the source tiers whose records are deleted once
	// aggregated. Defaults to FiveMinutes.
	PruneTiers []Granularity
	// Metrics is the optional Prometheus metrics collector.
	Metrics *metrics.RollupMetrics
}

// Downsampler aggregates complete windows of a finer tier into one record
// per location at the next tier up.
type Downsampler struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	prune   map[Granularity]bool
	locks   map[Granularity]*sync.Mutex
	metrics *metrics.RollupMetrics
}

// NewDownsampler creates a Downsampler.
func NewDownsampler(cfg *DownsamplerConfig) (*Downsampler, error) {
	if cfg == nil {
		return nil, errors.New("downsampler config cannot be nil")
	}

	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	pruneTiers := cfg.PruneTiers
	if pruneTiers == nil {
		pruneTiers = []Granularity{FiveMinutes}
	}
	prune := make(map[Granularity]bool, len(pruneTiers))
	for _, g := range pruneTiers {
		if !g.IsStored() {
			return nil, fmt.Errorf("prune tier %s is not a stored tier", g)
		}
		prune[g] = true
	}

	locks := make(map[Granularity]*sync.Mutex)
	for _, g := range StoredTiers {
		if _, ok := g.Finer(); ok {
			locks[g] = &sync.Mutex{}
		}
	}

	return &Downsampler{
		store:   cfg.Store,
		logger:  cfg.Logger.With(slog.String("component", "downsampler")),
		now:     now,
		prune:   prune,
		locks:   locks,
		metrics: cfg.Metrics,
	}, nil
}

// RollUp aggregates every closed, complete window of the tier below target
// into target records and returns the records written. Passes for the same
// target never overlap. A failed window stops its series for this pass;
// other series continue and their errors are joined into the result.
func (d *Downsampler) RollUp(ctx context.Context, target Granularity) ([]Measurement, error) {
	source, ok := target.Finer()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRollupTier, target)
	}

	lock := d.locks[target]
	lock.Lock()
	defer lock.Unlock()

	var timer *prometheus.Timer
	if d.metrics != nil {
		timer = prometheus.NewTimer(d.metrics.RunDuration.WithLabelValues(target.String()))
		defer timer.ObserveDuration()
	}

	now := d.now().UTC()
	logger := d.logger.With(slog.String("tier", target.String()), slog.String("source_tier", source.String()))

	keys, err := d.store.Series(ctx, source)
	if err != nil {
		d.observeRun(target, err)
		return nil, fmt.Errorf("list %s series: %w", source, err)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StationID != keys[j].StationID {
			return keys[i].StationID < keys[j].StationID
		}
		return keys[i].LocationID < keys[j].LocationID
	})

	var (
		created []Measurement
		errs    error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = errors.Join(errs, err)
			break
		}

		written, err := d.rollUpSeries(ctx, logger, key, target, source, now)
		created = append(created, written...)
		if err != nil {
			errs = errors.Join(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	logger.Info("rollup pass completed",
		"series", len(keys),
		"created", len(created),
		"failed", errs != nil,
	)
	d.observeRun(target, errs)
	return created, errs
}

func (d *Downsampler) observeRun(target Granularity, err error) {
	if d.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	d.metrics.RunsTotal.WithLabelValues(target.String(), status).Inc()
}

// window is one target-tier window and the source records falling into it.
type window struct {
	start time.Time
	recs  []Measurement
}

func (d *Downsampler) rollUpSeries(ctx context.Context, logger *slog.Logger, key SeriesKey, target, source Granularity, now time.Time) ([]Measurement, error) {
	logger = logger.With(slog.String("station_id", key.StationID), slog.String("location_id", key.LocationID))

	done, err := d.aggregated(ctx, key, target)
	if err != nil {
		return nil, fmt.Errorf("find %s aggregates for station %s: %w", target, key.StationID, err)
	}

	// The walk starts at the earliest remaining source record, so a window
	// skipped as incomplete is retried even after later windows rolled up.
	records, err := d.store.Find(ctx, Filter{
		StationID:   key.StationID,
		LocationID:  key.LocationID,
		Granularity: source,
		Range:       &Range{To: now},
	})
	if err != nil {
		return nil, fmt.Errorf("find %s measurements for station %s: %w", source, key.StationID, err)
	}

	windows := make(map[int64]*window)
	var stale []Measurement
	for _, rec := range records {
		start := target.Truncate(rec.MeasuredAt)
		if done[start.UnixNano()] {
			stale = append(stale, rec)
			continue
		}
		w, ok := windows[start.UnixNano()]
		if !ok {
			w = &window{start: start}
			windows[start.UnixNano()] = w
		}
		w.recs = append(w.recs, rec)
	}

	if d.prune[source] && len(stale) > 0 {
		if err := d.sweep(ctx, logger, key, source, stale); err != nil {
			return nil, err
		}
	}

	ordered := make([]*window, 0, len(windows))
	for _, w := range windows {
		ordered = append(ordered, w)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	var created []Measurement
	for _, w := range ordered {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if target.Add(w.start, 1).After(now) {
			break
		}

		expected := target.ExpectedCount(w.start)
		found := distinctSlots(w.recs)
		if found != expected {
			logger.Debug("skipping incomplete window",
				"boundary", w.start,
				"found", found,
				"expected", expected,
			)
			if d.metrics != nil {
				d.metrics.IncompleteWindows.WithLabelValues(target.String()).Inc()
			}
			continue
		}

		written, err := d.commitWindow(ctx, logger, w.recs, target, source, w.start, found, expected)
		created = append(created, written...)
		if err != nil {
			return created, err
		}
	}

	return created, nil
}

// commitWindow writes the per-location averages of one complete window and
// then deletes the consumed source records if the source tier is pruned.
func (d *Downsampler) commitWindow(ctx context.Context, logger *slog.Logger, recs []Measurement, target, source Granularity, w time.Time, found, expected int) ([]Measurement, error) {
	means, err := meanByLocation(recs)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s window %s: %w", target, w.Format(time.RFC3339), err)
	}

	locations := make([]string, 0, len(means))
	for loc := range means {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	created := make([]Measurement, 0, len(locations))
	for _, loc := range locations {
		temperature, humidity, err := means[loc].value()
		if err != nil {
			return created, fmt.Errorf("aggregate %s window %s: %w", target, w.Format(time.RFC3339), err)
		}

		saved, err := d.store.Insert(ctx, Measurement{
			StationID:   recs[0].StationID,
			LocationID:  loc,
			Granularity: target,
			MeasuredAt:  w,
			Temperature: temperature,
			Humidity:    humidity,
		})
		if err != nil {
			logger.Error("failed to write aggregate",
				"boundary", w,
				"found", found,
				"expected", expected,
				"error", err,
			)
			if d.metrics != nil {
				d.metrics.WindowFailures.WithLabelValues(target.String(), "write").Inc()
			}
			return created, fmt.Errorf("write %s aggregate at %s for station %s: %w",
				target, w.Format(time.RFC3339), recs[0].StationID, err)
		}
		created = append(created, saved)
	}

	if d.metrics != nil {
		d.metrics.RecordsWritten.WithLabelValues(target.String()).Add(float64(len(created)))
	}

	if !d.prune[source] {
		return created, nil
	}

	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	deleted, err := d.store.DeleteMany(ctx, ids)
	if err != nil {
		logger.Error("failed to delete aggregated source records",
			"boundary", w,
			"found", found,
			"expected", expected,
			"error", err,
		)
		if d.metrics != nil {
			d.metrics.WindowFailures.WithLabelValues(target.String(), "delete").Inc()
		}
		return created, fmt.Errorf("delete %s sources of %s at %s: %w", source, target, w.Format(time.RFC3339), err)
	}
	if d.metrics != nil {
		d.metrics.RecordsDeleted.WithLabelValues(source.String()).Add(float64(deleted))
	}

	logger.Debug("window aggregated",
		"boundary", w,
		"records", len(recs),
		"deleted", deleted,
	)
	return created, nil
}

// aggregated returns the boundaries, as Unix nanoseconds, of the windows
// that already have a target record for the series.
func (d *Downsampler) aggregated(ctx context.Context, key SeriesKey, target Granularity) (map[int64]bool, error) {
	existing, err := d.store.Find(ctx, Filter{
		StationID:   key.StationID,
		LocationID:  key.LocationID,
		Granularity: target,
	})
	if err != nil {
		return nil, err
	}
	done := make(map[int64]bool, len(existing))
	for _, rec := range existing {
		done[target.Truncate(rec.MeasuredAt).UnixNano()] = true
	}
	return done, nil
}

// sweep deletes prunable source records whose window already has an
// aggregate. This finishes a pass whose delete failed after the write.
func (d *Downsampler) sweep(ctx context.Context, logger *slog.Logger, key SeriesKey, source Granularity, stale []Measurement) error {
	ids := make([]string, 0, len(stale))
	for _, rec := range stale {
		ids = append(ids, rec.ID)
	}
	deleted, err := d.store.DeleteMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("delete stale %s measurements for station %s: %w", source, key.StationID, err)
	}

	logger.Info("swept already aggregated source records", "deleted", deleted)
	if d.metrics != nil {
		d.metrics.RecordsDeleted.WithLabelValues(source.String()).Add(float64(deleted))
	}
	return nil
}

func distinctSlots(recs []Measurement) int {
	slots := make(map[int64]struct{}, len(recs))
	for _, r := range recs {
		slots[r.MeasuredAt.UTC().UnixNano()] = struct{}{}
	}
	return len(slots)
}
