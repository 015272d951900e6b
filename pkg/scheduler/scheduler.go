// Package scheduler runs periodic maintenance jobs: orphaned detail
// snapshot cleanup, audit log retention, and DB pool stat collection.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cacophony-project/cacophony-api/pkg/audit"
	"github.com/cacophony-project/cacophony-api/pkg/observability"
)

const (
	snapshotCleanupSchedule = "30 3 * * *"
	auditCleanupSchedule    = "0 4 * * *"
	dbStatsSchedule         = "@every 30s"

	auditRetention = 90 * 24 * time.Hour
	jobTimeout     = 5 * time.Minute
)

// Scheduler owns the cron instance and the maintenance jobs
type Scheduler struct {
	cron    *cron.Cron
	db      *sql.DB
	auditor *audit.Recorder
	metrics *observability.Metrics
	logger  *observability.Logger
}

// New creates a scheduler with all maintenance jobs registered
func New(db *sql.DB, auditor *audit.Recorder, metrics *observability.Metrics, logger *observability.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		db:      db,
		auditor: auditor,
		metrics: metrics,
		logger:  logger.WithField("component", "scheduler"),
	}

	if _, err := s.cron.AddFunc(snapshotCleanupSchedule, s.cleanupOrphanedSnapshots); err != nil {
		return nil, fmt.Errorf("failed to schedule snapshot cleanup: %w", err)
	}
	if _, err := s.cron.AddFunc(auditCleanupSchedule, s.cleanupAuditLog); err != nil {
		return nil, fmt.Errorf("failed to schedule audit cleanup: %w", err)
	}
	if s.metrics != nil {
		if _, err := s.cron.AddFunc(dbStatsSchedule, s.collectDBStats); err != nil {
			return nil, fmt.Errorf("failed to schedule db stats collection: %w", err)
		}
	}

	return s, nil
}

// Start begins running jobs on their schedules
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

// cleanupOrphanedSnapshots deletes detail snapshots no event references
// anymore. Snapshots are shared rows, so they only become garbage once
// the last referencing event is gone.
func (s *Scheduler) cleanupOrphanedSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM detail_snapshots ds
		 WHERE NOT EXISTS (SELECT 1 FROM events e WHERE e.detail_snapshot_id = ds.id)`)
	if err != nil {
		s.logger.WithError(err).Error("orphaned snapshot cleanup failed")
		return
	}

	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("removed orphaned detail snapshots")
	}
}

// cleanupAuditLog trims audit entries past the retention window
func (s *Scheduler) cleanupAuditLog() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	deleted, err := s.auditor.Cleanup(ctx, auditRetention)
	if err != nil {
		s.logger.WithError(err).Error("audit log cleanup failed")
		return
	}
	if deleted > 0 {
		s.logger.WithField("deleted", deleted).Info("trimmed audit log")
	}
}

func (s *Scheduler) collectDBStats() {
	s.metrics.CollectDBStats(s.db)
}
