package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type queueRescanner interface {
	ProvidersWithWaiting(ctx context.Context) ([]string, error)
	Rescan(ctx context.Context, providerID string) (int, error)
}

// RescanScheduler periodically refreshes the wait credit of every provider with waiting patients.
type RescanScheduler struct {
	queues   queueRescanner
	interval time.Duration
	logger   *zap.Logger
}

// NewRescanScheduler constructs the scheduler. A non-positive interval disables Run.
func NewRescanScheduler(queues queueRescanner, interval time.Duration, logger *zap.Logger) *RescanScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RescanScheduler{queues: queues, interval: interval, logger: logger}
}

// Run rescans on every tick until ctx is cancelled.
func (s *RescanScheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("rescan scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rescan scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce rescans every provider with waiting entries and returns the total rescored.
// A failing provider is logged and skipped.
func (s *RescanScheduler) RunOnce(ctx context.Context) int {
	providers, err := s.queues.ProvidersWithWaiting(ctx)
	if err != nil {
		s.logger.Warn("rescan: failed to list providers", zap.Error(err))
		return 0
	}
	total := 0
	for _, providerID := range providers {
		if ctx.Err() != nil {
			break
		}
		n, err := s.queues.Rescan(ctx, providerID)
		if err != nil {
			s.logger.Warn("rescan failed", zap.String("provider_id", providerID), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}
