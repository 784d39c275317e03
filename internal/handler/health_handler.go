package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/service"
)

// ReadinessCheck probes one dependency
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	datafeed *service.DatafeedService
	version  string
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewHealthHandler creates a health handler. Extra checks, such as a Redis
// ping, are reported next to the datafeed checks.
func NewHealthHandler(datafeed *service.DatafeedService, version string, checks map[string]ReadinessCheck, logger *zap.Logger) *HealthHandler {
	if checks == nil {
		checks = make(map[string]ReadinessCheck)
	}
	return &HealthHandler{
		datafeed: datafeed,
		version:  version,
		checks:   checks,
		logger:   logger,
	}
}

// Health reports that the process is serving
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": h.version})
}

// Ready exercises the datafeed with a throwaway chart and runs the extra
// checks. It answers 503 when any of them fails.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]bool{
		"datafeed_initialized": h.datafeed != nil,
		"datafeed_operational": false,
	}
	var errs []string

	if h.datafeed != nil {
		probeID := "health-probe-" + uuid.NewString()
		h.datafeed.CreateChart(ctx, probeID, nil)
		if _, ok := h.datafeed.GetChart(ctx, probeID); ok {
			checks["datafeed_operational"] = true
		} else {
			errs = append(errs, "datafeed probe chart could not be read back")
		}
		h.datafeed.DeleteChart(ctx, probeID)
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			checks[name] = false
			errs = append(errs, name+": "+err.Error())
			continue
		}
		checks[name] = true
	}

	status, code := "ready", http.StatusOK
	for _, ok := range checks {
		if !ok {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	body := gin.H{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	}
	if h.datafeed != nil {
		body["stats"] = h.datafeed.Stats()
	}
	if len(errs) > 0 {
		body["errors"] = errs
	}

	c.JSON(code, body)
}
