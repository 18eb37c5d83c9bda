// Package pipeline runs the background jobs that move opportunity history
// out of the primary store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/metrics"
)

const (
	// DefaultSchedule runs the archive daily at 03:00 UTC.
	DefaultSchedule = "0 3 * * *"

	// DefaultLockTTL bounds how long a crashed replica can block others.
	DefaultLockTTL = 30 * time.Minute

	lockKey = "archive"
)

// ArchiverConfig configures the archive runner.
type ArchiverConfig struct {
	RetentionDays int
	Schedule      string
	LockTTL       time.Duration
}

// Archiver moves closed opportunities older than the retention window from
// the database to cold storage.
type Archiver struct {
	blob     domain.Archiver
	locks    domain.LockManager
	cfg      ArchiverConfig
	schedule cron.Schedule
	now      func() time.Time
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. locks may be nil when only one process
// can ever run the job.
func NewArchiver(blob domain.Archiver, locks domain.LockManager, cfg ArchiverConfig, logger *slog.Logger) (*Archiver, error) {
	if cfg.RetentionDays <= 0 {
		return nil, fmt.Errorf("pipeline: retention days must be positive, got %d", cfg.RetentionDays)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse schedule %q: %w", cfg.Schedule, err)
	}
	return &Archiver{
		blob:     blob,
		locks:    locks,
		cfg:      cfg,
		schedule: sched,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "archiver")),
	}, nil
}

// Cutoff returns the instant before which history is archived.
func (a *Archiver) Cutoff(now time.Time) time.Time {
	return now.UTC().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
}

// Next returns the first scheduled run strictly after t.
func (a *Archiver) Next(t time.Time) time.Time {
	return a.schedule.Next(t.UTC())
}

// RunOnce executes a single archive pass. It returns the number of archived
// rows; when another replica holds the lock it returns zero and no error.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, lockKey, a.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archiver: lock held elsewhere, skipping run")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("pipeline: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.Cutoff(a.now())
	a.logger.Info("archiver: starting run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.RetentionDays),
	)

	n, err := a.blob.ArchiveHistory(ctx, cutoff)
	metrics.RecordArchive(err == nil)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archive history before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.Info("archiver: run complete", slog.Int64("archived", n))
	return n, nil
}

// RunCron runs the archiver on its schedule until ctx is cancelled. Failed
// runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context) error {
	a.logger.Info("archiver: cron started", slog.String("schedule", a.cfg.Schedule))

	for {
		next := a.Next(a.now())
		wait := time.Until(next)
		a.logger.Debug("archiver: waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver: cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archiver: run failed", slog.String("error", err.Error()))
			}
		}
	}
}
