package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/chart-datafeed/internal/config"
	"github.com/yourorg/chart-datafeed/internal/handler"
	"github.com/yourorg/chart-datafeed/internal/hub"
	"github.com/yourorg/chart-datafeed/internal/kafka"
	"github.com/yourorg/chart-datafeed/internal/middleware"
	"github.com/yourorg/chart-datafeed/internal/service"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize Redis client, only needed for the shared rate limit store
	var redisClient *redis.Client
	if cfg.RateLimit.Enabled && cfg.RateLimit.Backend == "redis" {
		redisClient, err = setupRedis(cfg, logger)
		if err != nil {
			logger.Error("Failed to set up Redis, using in-memory rate limiting", zap.Error(err))
		}
	}

	datafeed := service.NewDatafeedService(cfg.Datafeed.ChunkSizeThreshold, logger)
	tokenService := service.NewTokenService(cfg.Auth, logger)

	// Mirror data updates to Kafka
	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, cfg.Kafka.MaxRetries, logger)
		unsubscribe := datafeed.SubscribeAll(kafka.NewEventSink(kafkaProducer, cfg.Kafka.Topic))
		defer unsubscribe()
		logger.Info("Initialized Kafka producer",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	connections := hub.NewHub(datafeed, hub.Options{
		Timeout:         cfg.WebSocket.Timeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		CleanupInterval: cfg.WebSocket.CleanupInterval,
		WriteWait:       cfg.WebSocket.WriteWait,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
	}, logger)

	router := setupRouter(gctx, cfg, logger, datafeed, tokenService, connections, redisClient)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		return connections.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("Starting chart datafeed server",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Create a deadline for server shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}

	// Close Kafka producer
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.Error("Failed to close Kafka producer", zap.Error(err))
		}
	}

	// Close Redis client
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited properly")
}

// setupRedis initializes the Redis client
func setupRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	redisOptions, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		// Plain host:port
		redisOptions = &redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}

	client := redis.NewClient(redisOptions)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Connected to Redis", zap.String("addr", redisOptions.Addr))
	return client, nil
}

func setupRouter(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	datafeed *service.DatafeedService,
	tokenService *service.TokenService,
	connections *hub.Hub,
	redisClient *redis.Client,
) *gin.Engine {
	router := gin.New()

	// Use standard middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	checks := make(map[string]handler.ReadinessCheck)
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	chartHandler := handler.NewChartHandler(datafeed, logger)
	authHandler := handler.NewAuthHandler(tokenService, logger)
	healthHandler := handler.NewHealthHandler(datafeed, version, checks, logger)
	streamHandler := handler.NewStreamHandler(ctx, datafeed, connections, cfg.CORS.AllowedOrigins, logger)

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)

	auth := middleware.AuthMiddleware(tokenService, logger)
	generalLimit, historyLimit := rateLimits(cfg, redisClient, logger)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandler.IssueToken)

		charts := v1.Group("/charts")
		charts.Use(auth)
		charts.Use(generalLimit...)
		{
			charts.GET("", chartHandler.ListCharts)
			charts.GET("/:chartId", chartHandler.GetChart)
			charts.POST("/:chartId", chartHandler.CreateChart)
			charts.DELETE("/:chartId", chartHandler.DeleteChart)

			charts.GET("/:chartId/data/:paneId/:seriesId", chartHandler.GetSeriesData)
			charts.POST("/:chartId/data/:seriesId", chartHandler.SetSeriesData)
			charts.PATCH("/:chartId/data/:seriesId", chartHandler.AppendSeriesData)

			charts.GET("/:chartId/history/:paneId/:seriesId", withLimit(historyLimit, chartHandler.GetHistory)...)
			charts.POST("/:chartId/history", withLimit(historyLimit, chartHandler.GetHistoryBatch)...)
		}
	}

	router.GET("/ws/charts/:chartId", auth, streamHandler.ServeWS)

	return router
}

// rateLimits returns the general and history limit middleware, both empty
// when rate limiting is disabled
func rateLimits(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) ([]gin.HandlerFunc, []gin.HandlerFunc) {
	rl := cfg.RateLimit
	if !rl.Enabled {
		return nil, nil
	}

	// Redis-based rate limiting (if Redis is available)
	if redisClient != nil {
		general := middleware.RedisRateLimit(redisClient, middleware.RedisRateLimitConfig{
			RequestsPerMinute:  rl.RequestsPerMinute,
			ClientIPHeaderName: rl.ClientIPHeaderName,
			KeyPrefix:          "ratelimit:charts",
		}, logger)
		history := middleware.RedisRateLimit(redisClient, middleware.RedisRateLimitConfig{
			RequestsPerMinute:  rl.HistoryRequestsPerMinute,
			ClientIPHeaderName: rl.ClientIPHeaderName,
			KeyPrefix:          "ratelimit:history",
		}, logger)
		return []gin.HandlerFunc{general}, []gin.HandlerFunc{history}
	}

	// Fallback to in-memory rate limiter if Redis is not available.
	// The history bucket never holds more than one minute of its budget.
	historyBurst := rl.BurstSize
	if rl.HistoryRequestsPerMinute < historyBurst {
		historyBurst = rl.HistoryRequestsPerMinute
	}
	general := middleware.RateLimit(middleware.NewRateLimiter(rl.RequestsPerMinute, rl.BurstSize), rl.ClientIPHeaderName)
	history := middleware.RateLimit(middleware.NewRateLimiter(rl.HistoryRequestsPerMinute, historyBurst), rl.ClientIPHeaderName)
	return []gin.HandlerFunc{general}, []gin.HandlerFunc{history}
}

func withLimit(limit []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(limit)+1)
	chain = append(chain, limit...)
	return append(chain, h)
}

func createLogger(level, format string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
