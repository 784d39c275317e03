package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/config"
	"github.com/yourorg/chart-datafeed/internal/hub"
	"github.com/yourorg/chart-datafeed/internal/service"
)

func newTestRouter(t *testing.T, mutate func(cfg *config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	datafeed := service.NewDatafeedService(cfg.Datafeed.ChunkSizeThreshold, logger)
	tokens := service.NewTokenService(cfg.Auth, logger)
	connections := hub.NewHub(datafeed, hub.DefaultOptions(), logger)

	return setupRouter(context.Background(), cfg, logger, datafeed, tokens, connections, nil)
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil)

	w := serve(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","version":"`+version+`"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(router, http.MethodPost, "/api/v1/charts/btc", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, http.MethodPost, "/api/v1/charts/btc/data/price",
		`{"paneId":0,"seriesType":"line","data":[{"time":1,"value":1},{"time":2,"value":2}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, http.MethodGet, "/api/v1/charts/btc/history/0/price?before_time=2&count=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hasMoreBefore":false`)
	assert.Contains(t, w.Body.String(), `"totalCount":2`)

	w = serve(router, http.MethodGet, "/api/v1/charts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"charts":["btc"],"count":1}`, w.Body.String())
}

func TestRouter_HistoryLimitIsStricter(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 60
		cfg.RateLimit.HistoryRequestsPerMinute = 1
		cfg.RateLimit.BurstSize = 10
	})

	require.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/charts/btc", "").Code)

	path := "/api/v1/charts/btc/history/0/price"
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, path, "").Code)

	// The general limit still has room
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/charts/btc", "").Code)
}

func TestRouter_AuthProtectsCharts(t *testing.T) {
	router := newTestRouter(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
	})

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/v1/charts", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
}

func TestCreateLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := createLogger("debug", format)
		require.NoError(t, err, format)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	}

	logger, err := createLogger("bogus", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}
