package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic, caching and the queue engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	queueJoins         prometheus.Counter
	queueTransitions   *prometheus.CounterVec
	queueBoosts        prometheus.Counter
	queueRescored      prometheus.Counter
	rankPassDuration   prometheus.Histogram
	rankConflicts      prometheus.Counter
	rankExhausted      prometheus.Counter
	snapshotsPublished prometheus.Counter
	subscribers        prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	queueJoins := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_joins_total",
		Help: "Patients checked into a provider queue",
	})

	queueTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_transitions_total",
		Help: "Applied queue entry status transitions",
	}, []string{"from", "to"})

	queueBoosts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_manual_boosts_total",
		Help: "Manual priority boosts applied",
	})

	queueRescored := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_rescored_entries_total",
		Help: "Waiting entries rescored by re-scans",
	})

	rankPassDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "queue_rank_pass_seconds",
		Help:    "Duration of rank recomputation passes",
		Buckets: prometheus.DefBuckets,
	})

	rankConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_rank_conflicts_total",
		Help: "Queue mutations retried after a concurrency conflict",
	})

	rankExhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_rank_conflicts_exhausted_total",
		Help: "Queue mutations that failed after exhausting conflict retries",
	})

	snapshotsPublished := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_snapshots_published_total",
		Help: "Queue snapshots handed to subscribers",
	})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "queue_snapshot_subscribers",
		Help: "Currently registered snapshot subscribers",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		queueJoins, queueTransitions, queueBoosts, queueRescored, rankPassDuration, rankConflicts, rankExhausted,
		snapshotsPublished, subscribers, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:           registry,
		handler:            handler,
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		queueJoins:         queueJoins,
		queueTransitions:   queueTransitions,
		queueBoosts:        queueBoosts,
		queueRescored:      queueRescored,
		rankPassDuration:   rankPassDuration,
		rankConflicts:      rankConflicts,
		rankExhausted:      rankExhausted,
		snapshotsPublished: snapshotsPublished,
		subscribers:        subscribers,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordJoin counts a queue check-in.
func (m *MetricsService) RecordJoin() {
	if m == nil {
		return
	}
	m.queueJoins.Inc()
}

// RecordTransition counts an applied status change.
func (m *MetricsService) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.queueTransitions.WithLabelValues(from, to).Inc()
}

// RecordBoost counts a manual boost.
func (m *MetricsService) RecordBoost() {
	if m == nil {
		return
	}
	m.queueBoosts.Inc()
}

// RecordRescan counts entries rescored by a re-scan.
func (m *MetricsService) RecordRescan(rescored int) {
	if m == nil {
		return
	}
	m.queueRescored.Add(float64(rescored))
}

// ObserveRankPass records the duration of one rank recomputation.
func (m *MetricsService) ObserveRankPass(duration time.Duration) {
	if m == nil {
		return
	}
	m.rankPassDuration.Observe(duration.Seconds())
}

// RecordRankConflict counts a retried concurrency conflict; exhausted marks the final failure.
func (m *MetricsService) RecordRankConflict(exhausted bool) {
	if m == nil {
		return
	}
	if exhausted {
		m.rankExhausted.Inc()
		return
	}
	m.rankConflicts.Inc()
}

// RecordSnapshotPublished counts a delivered snapshot.
func (m *MetricsService) RecordSnapshotPublished() {
	if m == nil {
		return
	}
	m.snapshotsPublished.Inc()
}

// SetSubscribers updates the active subscriber gauge.
func (m *MetricsService) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(count))
}
