package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/team13Uni/wedro/pkg/metrics"
)

// Reconstructor joins stored measurements onto generated bucket boundaries.
type Reconstructor struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.QueryMetrics // Optional metrics
}

// NewReconstructor creates a Reconstructor reading from store.
func NewReconstructor(store Store, logger *slog.Logger) (*Reconstructor, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &Reconstructor{
		store:  store,
		logger: logger,
	}, nil
}

// SetMetrics sets the metrics collector for this reconstructor.
func (r *Reconstructor) SetMetrics(m *metrics.QueryMetrics) {
	r.metrics = m
}

// Reconstruct returns the bucket series of stationID over [from, to] at
// granularity g, most recent bucket first. Boundaries without a stored
// measurement carry null values unless g is upscaled, in which case the
// gaps between two stored anchors are filled by interpolation.
func (r *Reconstructor) Reconstruct(ctx context.Context, from, to time.Time, g Granularity, stationID string) ([]Bucket, error) {
	var timer *prometheus.Timer
	if r.metrics != nil {
		timer = prometheus.NewTimer(r.metrics.ReconstructDuration.WithLabelValues(g.String()))
		defer timer.ObserveDuration()
	}

	buckets, err := r.reconstruct(ctx, from, to, g, stationID)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReconstructTotal.WithLabelValues(g.String(), metrics.StatusError).Inc()
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ReconstructTotal.WithLabelValues(g.String(), metrics.StatusSuccess).Inc()
		r.metrics.BucketsReturned.WithLabelValues(g.String()).Observe(float64(len(buckets)))
		calculated := 0
		for _, b := range buckets {
			if b.IsCalculated {
				calculated++
			}
		}
		r.metrics.CalculatedBuckets.WithLabelValues(g.String()).Add(float64(calculated))
	}

	return buckets, nil
}

func (r *Reconstructor) reconstruct(ctx context.Context, from, to time.Time, g Granularity, stationID string) ([]Bucket, error) {
	boundaries, err := Generate(from, to, g)
	if err != nil {
		return nil, err
	}

	tier, upscale := g.StorageTier()

	records, err := r.store.Find(ctx, Filter{
		StationID:   stationID,
		Granularity: tier,
		Range:       &Range{From: boundaries[0], To: to.UTC()},
	})
	if err != nil {
		return nil, fmt.Errorf("find %s measurements for station %s: %w", tier, stationID, err)
	}

	anchors, err := indexAnchors(records, tier)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("reconstructing series",
		"station_id", stationID,
		"granularity", g.String(),
		"tier", tier.String(),
		"boundaries", len(boundaries),
		"measurements", len(records),
	)

	var out []Bucket
	if upscale {
		out, err = fillUpscaled(boundaries, anchors, tier, g)
		if err != nil {
			return nil, err
		}
	} else {
		out = make([]Bucket, 0, len(boundaries))
		for _, b := range boundaries {
			if a, ok := anchors[b.UnixNano()]; ok {
				out = append(out, a)
				continue
			}
			out = append(out, Bucket{Date: b, Tier: tier})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out, nil
}

// indexAnchors keys stored records by exact timestamp. Several records on
// the same boundary (one station reporting for several locations) are averaged.
func indexAnchors(records []Measurement, tier Granularity) (map[int64]Bucket, error) {
	grouped := make(map[int64][]Measurement, len(records))
	for _, rec := range records {
		k := rec.MeasuredAt.UTC().UnixNano()
		grouped[k] = append(grouped[k], rec)
	}

	anchors := make(map[int64]Bucket, len(grouped))
	for k, recs := range grouped {
		var m mean
		for _, rec := range recs {
			if err := m.add(rec.Temperature, rec.Humidity); err != nil {
				return nil, fmt.Errorf("measurement %s: %w", rec.ID, err)
			}
		}
		t, h, err := m.value()
		if err != nil {
			return nil, err
		}
		anchors[k] = Bucket{
			Date:        time.Unix(0, k).UTC(),
			Temperature: &t,
			Humidity:    &h,
			Tier:        tier,
		}
	}
	return anchors, nil
}

// fillUpscaled walks boundaries in ascending order, interpolating between
// consecutive stored anchors. Gap boundaries between two anchors are
// replaced by the calculated points at the same instants; gaps not closed
// by an anchor on both sides stay null.
func fillUpscaled(boundaries []time.Time, anchors map[int64]Bucket, tier, g Granularity) ([]Bucket, error) {
	out := make([]Bucket, 0, len(boundaries))
	var (
		last    *Bucket
		pending []Bucket
	)

	for _, b := range boundaries {
		current, ok := anchors[b.UnixNano()]
		if !ok {
			pending = append(pending, Bucket{Date: b, Tier: tier})
			continue
		}

		if last != nil {
			points, err := Upscale(*last, current, g)
			if err != nil {
				return nil, err
			}
			out = append(out, points...)
		} else {
			out = append(out, pending...)
		}
		pending = pending[:0]

		out = append(out, current)
		last = &current
	}

	return append(out, pending...), nil
}
