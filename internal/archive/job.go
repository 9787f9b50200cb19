// Package archive runs the periodic cold-storage export of closed trades and
// monitoring snapshots.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratbot/internal/domain"
	"github.com/alanyoungcy/stratbot/internal/scheduler"
)

// TaskID is the scheduler id of the archive task.
const TaskID = "archive"

// Job exports records older than the retention window on a cron schedule.
// It runs as a one-shot scheduler task that re-arms itself after every run.
type Job struct {
	archiver      domain.Archiver
	retentionDays int
	schedule      Schedule
	logger        *slog.Logger
	now           func() time.Time
}

// NewJob creates a Job. It fails on an invalid cron expression.
func NewJob(archiver domain.Archiver, retentionDays int, cronExpr string, logger *slog.Logger) (*Job, error) {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Job{
		archiver:      archiver,
		retentionDays: retentionDays,
		schedule:      sched,
		logger:        logger.With(slog.String("component", "archive")),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register arms the next run on s.
func (j *Job) Register(s *scheduler.Scheduler) error {
	next, err := j.schedule.Next(j.now())
	if err != nil {
		return err
	}
	delay := next.Sub(j.now())
	if delay < 0 {
		delay = 0
	}
	if err := s.ScheduleOnce(TaskID, "archive closed trades and snapshots", delay, func(ctx context.Context) error {
		runErr := j.Run(ctx)
		if runErr != nil {
			j.logger.ErrorContext(ctx, "archive run failed", slog.String("error", runErr.Error()))
		}
		// re-arm only after the run: replacing the task cancels its context
		if err := j.Register(s); err != nil {
			j.logger.ErrorContext(ctx, "re-arm archive task failed", slog.String("error", err.Error()))
		}
		return runErr
	}); err != nil {
		return err
	}
	j.logger.Info("archive scheduled", slog.Time("next_run", next))
	return nil
}

// Run archives everything older than the retention window.
func (j *Job) Run(ctx context.Context) error {
	cutoff := j.now().Add(-time.Duration(j.retentionDays) * 24 * time.Hour)
	j.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", j.retentionDays),
	)

	trades, err := j.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	snaps, err := j.archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	j.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("trades_archived", trades),
		slog.Int64("snapshots_archived", snaps),
	)
	return nil
}
