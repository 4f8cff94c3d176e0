package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// DefaultSchedules are the rollup cron expressions in UTC. Each runs a few
// minutes after the window it closes so late batches can land.
var DefaultSchedules = map[timeseries.Granularity]string{
	timeseries.Hour:  "5 * * * *",
	timeseries.Day:   "10 0 * * *",
	timeseries.Month: "20 0 1 * *",
	timeseries.Year:  "30 0 1 1 *",
}

// Rollup runs one downsampling pass into a target tier.
type Rollup interface {
	RollUp(ctx context.Context, target timeseries.Granularity) ([]timeseries.Measurement, error)
}

// SchedulerConfig holds the configuration for a Scheduler.
type SchedulerConfig struct {
	Rollup  Rollup
	Logger  *slog.Logger
	Metrics *metrics.BackendMetrics
	// Schedules overrides DefaultSchedules per tier; an empty expression disables the tier.
	Schedules map[timeseries.Granularity]string
	// JobTimeout bounds a single pass. Defaults to 10 minutes.
	JobTimeout time.Duration
}

// Scheduler triggers rollups on cron schedules.
type Scheduler struct {
	cron    *gocron.Scheduler
	rollup  Rollup
	logger  *slog.Logger
	metrics *metrics.BackendMetrics
	timeout time.Duration
}

// NewScheduler creates a Scheduler with one singleton job per scheduled tier.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("scheduler config cannot be nil")
	}

	if cfg.Rollup == nil {
		return nil, errors.New("rollup cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	s := &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		rollup:  cfg.Rollup,
		logger:  cfg.Logger.With(slog.String("component", "scheduler")),
		metrics: cfg.Metrics,
		timeout: timeout,
	}
	s.cron.SingletonModeAll()

	for _, tier := range timeseries.StoredTiers {
		if _, ok := tier.Finer(); !ok {
			continue
		}

		expr := DefaultSchedules[tier]
		if override, ok := cfg.Schedules[tier]; ok {
			expr = override
		}
		if expr == "" {
			s.logger.Info("rollup disabled", "tier", tier.String())
			continue
		}

		if _, err := s.cron.Cron(expr).Tag(tier.String()).Do(s.run, tier); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", tier, expr, err)
		}
		s.logger.Info("rollup scheduled", "tier", tier.String(), "cron", expr)
	}

	return s, nil
}

// AddTask schedules a maintenance task under tag. Failures are logged.
func (s *Scheduler) AddTask(tag, expr string, task func(context.Context) error) error {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := task(ctx); err != nil {
			s.logger.Error("task failed", "task", tag, "error", err)
			return
		}
		s.logger.Debug("task finished", "task", tag)
	}
	if _, err := s.cron.Cron(expr).Tag(tag).Do(run); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", tag, expr, err)
	}
	return nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	s.logger.Info("scheduler started", "jobs", s.cron.Len())
}

// Stop stops scheduling new runs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}

// Jobs returns the scheduled jobs keyed by tier name with their next run time.
func (s *Scheduler) Jobs() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, job := range s.cron.Jobs() {
		for _, tag := range job.Tags() {
			out[tag] = job.NextRun()
		}
	}
	return out
}

// RunNow performs one pass for tier immediately and returns its result.
func (s *Scheduler) RunNow(ctx context.Context, tier timeseries.Granularity) ([]timeseries.Measurement, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.execute(ctx, tier)
}

// run is the job body. Errors are logged so the scheduler keeps running.
func (s *Scheduler) run(tier timeseries.Granularity) {
	_, _ = s.RunNow(context.Background(), tier)
}

func (s *Scheduler) execute(ctx context.Context, tier timeseries.Granularity) ([]timeseries.Measurement, error) {
	start := time.Now()
	created, err := s.rollup.RollUp(ctx, tier)

	result := metrics.StatusSuccess
	if err != nil {
		result = metrics.StatusError
		s.logger.Error("rollup failed",
			"tier", tier.String(),
			"created", len(created),
			"duration", time.Since(start),
			"error", err,
		)
	} else {
		s.logger.Info("rollup finished",
			"tier", tier.String(),
			"created", len(created),
			"duration", time.Since(start),
		)
	}

	if s.metrics != nil {
		s.metrics.SchedulerJobsTotal.WithLabelValues(tier.String(), result).Inc()
	}
	return created, err
}
