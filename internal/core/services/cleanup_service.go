package services

import (
	"context"
	"time"

	"github.com/processlens/backend/internal/infrastructure/logger"
)

type cleaner interface {
	Cleanup(ctx context.Context, days int) (int64, error)
}

// CleanupScheduler removes expired analyses on a fixed interval.
type CleanupScheduler struct {
	svc           cleaner
	logger        *logger.Logger
	interval      time.Duration
	retentionDays int
}

func NewCleanupScheduler(svc cleaner, log *logger.Logger, interval time.Duration, retentionDays int) *CleanupScheduler {
	return &CleanupScheduler{
		svc:           svc,
		logger:        log,
		interval:      interval,
		retentionDays: retentionDays,
	}
}

// Run blocks until ctx is done. A non-positive interval or retention disables it.
func (s *CleanupScheduler) Run(ctx context.Context) error {
	if s.interval <= 0 || s.retentionDays < 1 {
		s.logger.Infow("cleanup_scheduler_disabled", "interval", s.interval, "retention_days", s.retentionDays)
		<-ctx.Done()
		return nil
	}

	s.logger.Infow("cleanup_scheduler_started", "interval", s.interval, "retention_days", s.retentionDays)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *CleanupScheduler) runOnce(ctx context.Context) {
	deleted, err := s.svc.Cleanup(ctx, s.retentionDays)
	if err != nil {
		s.logger.Errorw("cleanup_scheduler_failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Infow("cleanup_scheduler_ok", "deleted", deleted)
	}
}
