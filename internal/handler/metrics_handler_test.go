package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/clinic-queue-api/internal/service"
)

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(context.Context) error {
	return p.err
}

func serveMetrics(h *MetricsHandler, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsHandlerReady(t *testing.T) {
	assert.Equal(t, http.StatusOK, serveMetrics(NewMetricsHandler(nil, stubPinger{}), "/ready").Code)
	assert.Equal(t, http.StatusOK, serveMetrics(NewMetricsHandler(nil, nil), "/health").Code)

	rec := serveMetrics(NewMetricsHandler(nil, stubPinger{err: errors.New("connection refused")}), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordJoin()

	rec := serveMetrics(NewMetricsHandler(metrics, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue_joins_total")

	rec = serveMetrics(NewMetricsHandler(nil, nil), "/metrics")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
