package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
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
	dbQueryDuration *prometheus.HistogramVec

	generationDuration   *prometheus.HistogramVec
	generationJobs       *prometheus.CounterVec
	generationLessons    *prometheus.CounterVec
	generationIterations prometheus.Histogram

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	generationFinished   uint64
	generationFailed     uint64
	generationTimeTotal  uint64

	queueMu    sync.RWMutex
	queueDepth func() int
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

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	generationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "timetable_generation_duration_seconds",
		Help:    "Wall time of timetable generation runs",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 240, 480, 600},
	}, []string{"scope", "stop_reason"})

	generationJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_generation_jobs_total",
		Help: "Generation jobs by terminal status",
	}, []string{"status"})

	generationLessons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timetable_generation_lessons_total",
		Help: "Lessons placed or left unplaced by generation runs",
	}, []string{"outcome"})

	generationIterations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timetable_generation_iterations",
		Help:    "Restart attempts per generation run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	m := &MetricsService{
		registry:             registry,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		cacheLatency:         cacheLatency,
		cacheWrite:           cacheWrite,
		cacheHitRatio:        cacheHitRatio,
		cacheHits:            cacheHits,
		cacheMisses:          cacheMisses,
		dbQueryDuration:      dbQueryDuration,
		generationDuration:   generationDuration,
		generationJobs:       generationJobs,
		generationLessons:    generationLessons,
		generationIterations: generationIterations,
	}

	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "timetable_generation_queue_depth",
		Help: "Generation jobs accepted but not yet finished",
	}, func() float64 {
		return float64(m.QueueDepth())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		generationDuration, generationJobs, generationLessons, generationIterations, queueDepth, goroutines)

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
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

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
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

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveGeneration records a finished generation run.
func (m *MetricsService) ObserveGeneration(scope, stopReason string, duration time.Duration, placed, unplaced, iterations int) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(scope, stopReason).Observe(duration.Seconds())
	m.generationJobs.WithLabelValues("finished").Inc()
	m.generationLessons.WithLabelValues("placed").Add(float64(placed))
	m.generationLessons.WithLabelValues("unplaced").Add(float64(unplaced))
	m.generationIterations.Observe(float64(iterations))
	atomic.AddUint64(&m.generationFinished, 1)
	atomic.AddUint64(&m.generationTimeTotal, uint64(duration.Nanoseconds()))
}

// RecordGenerationFailure counts a job that ended in FAILED.
func (m *MetricsService) RecordGenerationFailure() {
	if m == nil {
		return
	}
	m.generationJobs.WithLabelValues("failed").Inc()
	atomic.AddUint64(&m.generationFailed, 1)
}

// TrackQueueDepth sets the source of the queue depth gauge.
func (m *MetricsService) TrackQueueDepth(fn func() int) {
	if m == nil {
		return
	}
	m.queueMu.Lock()
	m.queueDepth = fn
	m.queueMu.Unlock()
}

// QueueDepth returns the current generation backlog, 0 when untracked.
func (m *MetricsService) QueueDepth() int {
	if m == nil {
		return 0
	}
	m.queueMu.RLock()
	fn := m.queueDepth
	m.queueMu.RUnlock()
	if fn == nil {
		return 0
	}
	return fn()
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)
	finished := atomic.LoadUint64(&m.generationFinished)
	genDuration := atomic.LoadUint64(&m.generationTimeTotal)

	var cacheRatio float64
	if totalLookups := hits + misses; totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	return models.SystemMetrics{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMs(reqDuration, requests),
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: averageMs(dbDuration, dbCount),
		GenerationsFinished:      finished,
		GenerationsFailed:        atomic.LoadUint64(&m.generationFailed),
		AverageGenerationMs:      averageMs(genDuration, finished),
		QueueDepth:               m.QueueDepth(),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func averageMs(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}
