package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type serviceHistory interface {
	AverageConsultationMinutes(ctx context.Context, providerID string, since time.Time) (float64, int, error)
}

type averageCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// WaitEstimatorConfig tunes the trailing average window.
type WaitEstimatorConfig struct {
	Window          time.Duration
	FallbackMinutes float64
	CacheTTL        time.Duration
}

// WaitEstimator derives expected wait from a provider's trailing average consultation time.
type WaitEstimator struct {
	history serviceHistory
	cache   averageCache
	cfg     WaitEstimatorConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewWaitEstimator constructs the estimator. cache may be nil.
func NewWaitEstimator(history serviceHistory, cache averageCache, cfg WaitEstimatorConfig, logger *zap.Logger) *WaitEstimator {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	if cfg.FallbackMinutes <= 0 {
		cfg.FallbackMinutes = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitEstimator{
		history: history,
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func averageKey(providerID string) string {
	return "avg:" + providerID
}

// AverageServiceMinutes returns the provider's trailing average, or the fallback without history.
func (e *WaitEstimator) AverageServiceMinutes(ctx context.Context, providerID string) (float64, error) {
	if e.cache != nil {
		var cached float64
		hit, err := e.cache.Get(ctx, averageKey(providerID), &cached)
		if err == nil && hit && cached > 0 {
			return cached, nil
		}
	}

	since := e.now().Add(-e.cfg.Window)
	average, samples, err := e.history.AverageConsultationMinutes(ctx, providerID, since)
	if err != nil {
		return 0, err
	}
	if samples == 0 || average <= 0 {
		average = e.cfg.FallbackMinutes
	}

	if e.cache != nil {
		_ = e.cache.Set(ctx, averageKey(providerID), average, e.cfg.CacheTTL)
	}
	return average, nil
}

// Invalidate drops the cached average after the provider completes a consultation.
func (e *WaitEstimator) Invalidate(ctx context.Context, providerID string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, averageKey(providerID)); err != nil {
		e.logger.Warn("failed to invalidate trailing average", zap.String("provider_id", providerID), zap.Error(err))
	}
}

// Estimate returns the expected wait for an entry with ahead entries before it.
func (e *WaitEstimator) Estimate(ahead int, averageMinutes float64) int {
	return EstimateWait(ahead, averageMinutes)
}
