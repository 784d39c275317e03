package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/service"
)

func newHealthRouter(h *HealthHandler) *gin.Engine {
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/health/ready", h.Ready)
	return r
}

func TestHealthHandler_Liveness(t *testing.T) {
	r := newHealthRouter(NewHealthHandler(service.NewDatafeedService(0, zap.NewNop()), "1.2.3", nil, zap.NewNop()))

	w, body := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"status": "healthy", "version": "1.2.3"}, body)
}

func TestHealthHandler_Ready(t *testing.T) {
	datafeed := service.NewDatafeedService(0, zap.NewNop())
	r := newHealthRouter(NewHealthHandler(datafeed, "1.2.3", map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return nil },
	}, zap.NewNop()))

	w, body := doJSON(t, r, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, map[string]interface{}{
		"datafeed_initialized": true,
		"datafeed_operational": true,
		"redis":                true,
	}, body["checks"])
	assert.NotContains(t, body, "errors")
	assert.Empty(t, datafeed.ChartIDs(), "probe chart is removed")
}

func TestHealthHandler_Degraded(t *testing.T) {
	r := newHealthRouter(NewHealthHandler(service.NewDatafeedService(0, zap.NewNop()), "1.2.3", map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	}, zap.NewNop()))

	w, body := doJSON(t, r, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, []interface{}{"redis: connection refused"}, body["errors"])
}
