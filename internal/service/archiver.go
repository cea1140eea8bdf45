package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// Archiver exports cold audit and operation rows to object storage on a
// cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run executes a single archive run for rows older than the retention
// window.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	audit, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}
	ops, err := a.blobArchiver.ArchiveOperations(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving operations before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("audit_archived", audit),
		slog.Int64("operations_archived", ops),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx ends. A
// failed run is logged and the schedule continues.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
