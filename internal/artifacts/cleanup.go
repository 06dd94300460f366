package artifacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, plus descriptors like "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// CleanupService periodically removes expired artifacts on a cron schedule.
type CleanupService struct {
	repo     Repository
	schedule cron.Schedule
	rawCron  string
	logger   *slog.Logger
	stopCh   chan struct{}
}

// NewCleanupService creates a cleanup service that prunes expired artifacts
// on the given cron expression (e.g. "@hourly", "0 */15 * * * *"). An
// invalid expression falls back to "@hourly" and logs the parse error.
func NewCleanupService(repo Repository, schedule string, logger *slog.Logger) *CleanupService {
	if schedule == "" {
		schedule = "@hourly"
	}
	if logger == nil {
		logger = slog.Default()
	}

	sched, err := cronParser.Parse(schedule)
	if err != nil {
		logger.Error("invalid artifact cleanup schedule, falling back to @hourly", "schedule", schedule, "error", err)
		schedule = "@hourly"
		sched, _ = cronParser.Parse(schedule)
	}

	return &CleanupService{
		repo:     repo,
		schedule: sched,
		rawCron:  schedule,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the cleanup loop, firing PruneExpired on each cron tick
// until ctx is cancelled or Stop is called.
func (s *CleanupService) Start(ctx context.Context) {
	s.logger.Info("artifact cleanup service started", "schedule", s.rawCron)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("artifact cleanup service stopping (context)")
			return
		case <-s.stopCh:
			timer.Stop()
			s.logger.Info("artifact cleanup service stopping (signal)")
			return
		case <-timer.C:
			count, err := s.repo.PruneExpired(ctx)
			if err != nil {
				s.logger.Error("artifact cleanup failed", "error", err)
			} else if count > 0 {
				s.logger.Info("artifact cleanup completed", "pruned", count)
			}
		}
	}
}

// Stop signals the cleanup service to stop.
func (s *CleanupService) Stop() {
	close(s.stopCh)
}
