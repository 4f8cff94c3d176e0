package backend_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

type fakeRollup struct {
	mu      sync.Mutex
	targets []timeseries.Granularity
	err     error
}

func (f *fakeRollup) RollUp(ctx context.Context, target timeseries.Granularity) ([]timeseries.Measurement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("missing deadline")
	}
	return []timeseries.Measurement{{Granularity: target}}, f.err
}

var _ = Describe("Scheduler", func() {
	var rollup *fakeRollup

	BeforeEach(func() {
		rollup = &fakeRollup{}
	})

	Describe("NewScheduler", func() {
		It("should validate its configuration", func() {
			_, err := backend.NewScheduler(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))

			_, err = backend.NewScheduler(&backend.SchedulerConfig{Logger: testLogger()})
			Expect(err).To(MatchError(ContainSubstring("rollup cannot be nil")))

			_, err = backend.NewScheduler(&backend.SchedulerConfig{Rollup: rollup})
			Expect(err).To(MatchError(ContainSubstring("logger cannot be nil")))
		})

		It("should schedule every rollup tier by default", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{Rollup: rollup, Logger: testLogger()})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.Jobs()).To(HaveLen(4))
			Expect(s.Jobs()).To(HaveKey("hour"))
			Expect(s.Jobs()).To(HaveKey("year"))
		})

		It("should disable tiers with an empty expression", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{
				Rollup:    rollup,
				Logger:    testLogger(),
				Schedules: map[timeseries.Granularity]string{timeseries.Year: "", timeseries.Month: ""},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Jobs()).To(HaveLen(2))
			Expect(s.Jobs()).NotTo(HaveKey("year"))
		})

		It("should reject invalid cron expressions", func() {
			_, err := backend.NewScheduler(&backend.SchedulerConfig{
				Rollup:    rollup,
				Logger:    testLogger(),
				Schedules: map[timeseries.Granularity]string{timeseries.Hour: "every hour"},
			})
			Expect(err).To(MatchError(ContainSubstring("invalid hour schedule")))
		})
	})

	Describe("RunNow", func() {
		It("should run one pass with a deadline", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{
				Rollup:     rollup,
				Logger:     testLogger(),
				Metrics:    backendMetrics,
				JobTimeout: time.Minute,
			})
			Expect(err).NotTo(HaveOccurred())

			created, err := s.RunNow(context.Background(), timeseries.Day)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(HaveLen(1))
			Expect(rollup.targets).To(Equal([]timeseries.Granularity{timeseries.Day}))
		})

		It("should return rollup failures", func() {
			rollup.err = errors.New("store offline")
			s, err := backend.NewScheduler(&backend.SchedulerConfig{Rollup: rollup, Logger: testLogger(), Metrics: backendMetrics})
			Expect(err).NotTo(HaveOccurred())

			_, err = s.RunNow(context.Background(), timeseries.Hour)
			Expect(err).To(MatchError("store offline"))
		})
	})

	Describe("AddTask", func() {
		It("should register maintenance tasks next to rollups", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{Rollup: rollup, Logger: testLogger()})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.AddTask("vacuum", "*/15 * * * *", func(context.Context) error { return nil })).To(Succeed())
			Expect(s.Jobs()).To(HaveLen(5))
			Expect(s.Jobs()).To(HaveKey("vacuum"))
		})

		It("should reject invalid cron expressions", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{Rollup: rollup, Logger: testLogger()})
			Expect(err).NotTo(HaveOccurred())

			err = s.AddTask("vacuum", "sometimes", func(context.Context) error { return nil })
			Expect(err).To(MatchError(ContainSubstring("invalid vacuum schedule")))
		})
	})

	Describe("Start and Stop", func() {
		It("should run jobs on schedule", func() {
			s, err := backend.NewScheduler(&backend.SchedulerConfig{
				Rollup: rollup,
				Logger: testLogger(),
				Schedules: map[timeseries.Granularity]string{
					timeseries.Hour:  "* * * * *",
					timeseries.Day:   "",
					timeseries.Month: "",
					timeseries.Year:  "",
				},
			})
			Expect(err).NotTo(HaveOccurred())

			s.Start()
			defer s.Stop()

			next := s.Jobs()["hour"]
			Expect(next).To(BeTemporally("~", time.Now(), 2*time.Minute))
		})
	})
})
