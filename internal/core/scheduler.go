package core

// scheduler.go runs background maintenance for the operation log.
//
// Finished logs older than the retention window are pruned on a fixed
// interval. A failed sweep is logged and retried on the next tick; it never
// stops the application.

import (
	"context"
	"time"
)

// RetentionConfig controls the log retention sweep.
type RetentionConfig struct {
	MaxAge        time.Duration // Finished logs older than this are pruned (0 disables)
	CheckInterval time.Duration // How often to sweep (default: 1h)
}

// DefaultRetentionInterval is the sweep interval when none is configured.
const DefaultRetentionInterval = time.Hour

// StartRetentionScheduler prunes old logs immediately and then every
// CheckInterval until ctx ends. It returns at once when MaxAge is zero.
func (s *Service) StartRetentionScheduler(ctx context.Context, cfg RetentionConfig) {
	if cfg.MaxAge <= 0 {
		return
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultRetentionInterval
	}

	s.logger.Info("retention scheduler started",
		"max_age", cfg.MaxAge.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.runRetentionJob(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			s.runRetentionJob(ctx, cfg)
		}
	}
}

// runRetentionJob performs one prune pass.
func (s *Service) runRetentionJob(ctx context.Context, cfg RetentionConfig) int {
	start := time.Now()
	removed, err := s.logs.Prune(ctx, s.now().Add(-cfg.MaxAge))
	if err != nil {
		s.logger.Error("log retention sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		s.logger.Info("pruned old operation logs",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed
}
