package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()

	m.ObserveHTTPRequest("GET", "/api/v1/timetables/jobs/:id", 200, 20*time.Millisecond)
	m.ObserveHTTPRequest("POST", "/api/v1/timetables/generate", 202, 40*time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveDBQuery("timetable_inputs", 10*time.Millisecond)
	m.ObserveGeneration("global", "complete", 2*time.Second, 10, 0, 1)
	m.ObserveGeneration("division", "deadline", 4*time.Second, 7, 3, 40)
	m.RecordGenerationFailure()
	m.TrackQueueDepth(func() int { return 3 })

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RequestsTotal)
	assert.InDelta(t, 30, snap.AverageRequestDurationMs, 0.01)
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 0.001)
	assert.Equal(t, uint64(1), snap.DBQueryCount)
	assert.Equal(t, uint64(2), snap.GenerationsFinished)
	assert.Equal(t, uint64(1), snap.GenerationsFailed)
	assert.InDelta(t, 3000, snap.AverageGenerationMs, 0.01)
	assert.Equal(t, 3, snap.QueueDepth)
	assert.Positive(t, snap.Goroutines)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	lessons := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "timetable_generation_lessons_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			lessons[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"placed": 17, "unplaced": 3}, lessons)
}

func TestMetricsServiceHandlerExposesCollectors(t *testing.T) {
	m := NewMetricsService()
	m.ObserveGeneration("global", "complete", time.Second, 1, 0, 1)
	m.TrackQueueDepth(func() int { return 5 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "timetable_generation_duration_seconds")
	assert.Contains(t, body, "timetable_generation_jobs_total")
	assert.True(t, strings.Contains(body, "timetable_generation_queue_depth 5"), body)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService

	assert.NotPanics(t, func() {
		m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordCacheOperation(true, time.Millisecond)
		m.ObserveCacheWrite(time.Millisecond)
		m.ObserveDBQuery("q", time.Millisecond)
		m.ObserveGeneration("global", "complete", time.Second, 1, 0, 1)
		m.RecordGenerationFailure()
		m.TrackQueueDepth(func() int { return 1 })
	})
	assert.Zero(t, m.QueueDepth())
	assert.Zero(t, m.Snapshot().RequestsTotal)
}
