package service

import (
	"context"
	"time"

	"offlinekit/internal/constants"

	"github.com/sirupsen/logrus"
)

// ScheduledJob is one periodic task
type ScheduledJob struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs a fixed set of jobs on an interval. The outbox is never
// scheduled here; it drains only on start and on an offline to online
// transition.
type Scheduler struct {
	jobs     []ScheduledJob
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
}

func NewScheduler(interval time.Duration, logger *logrus.Logger, jobs ...ScheduledJob) *Scheduler {
	if interval <= 0 {
		interval = time.Duration(constants.DefaultSyncIntervalSec) * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RefreshJob refreshes the local insights copy. A fallback result is not an
// error; it is logged by the fetcher.
func RefreshJob(f *InsightsFetcher) ScheduledJob {
	return ScheduledJob{
		Name: "insights_refresh",
		Run: func(ctx context.Context) error {
			f.Refresh(ctx)
			return nil
		},
	}
}

// Start blocks until ctx is done or Stop is called. The first run happens
// after one full interval since startup already refreshes.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField(LogFieldCount, len(s.jobs)).Info("Starting sync scheduler")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runJobs(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runJobs(ctx context.Context) {
	for _, job := range s.jobs {
		if err := job.Run(ctx); err != nil {
			s.logger.WithError(err).WithField(LogFieldOperation, job.Name).Warn("Scheduled job failed")
			continue
		}
		s.logger.WithField(LogFieldOperation, job.Name).Debug("Completed scheduled job")
	}
}
