package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the chart datafeed
type Config struct {
	Server    ServerConfig    `validate:"required"`
	Logging   LoggingConfig   `validate:"required"`
	Datafeed  DatafeedConfig  `validate:"required"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Auth      AuthConfig      `validate:"required"`
	RateLimit RateLimitConfig `validate:"required"`
	Redis     RedisConfig
	WebSocket WebSocketConfig `mapstructure:"websocket" validate:"required"`
	Kafka     KafkaConfig
}

// ServerConfig holds server specific configuration
type ServerConfig struct {
	Host            string
	Port            string        `validate:"required,numeric"`
	Environment     string        `validate:"oneof=development staging production test"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	IdleTimeout     time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// LoggingConfig holds logging specific configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// DatafeedConfig holds the datafeed core settings
type DatafeedConfig struct {
	ChunkSizeThreshold int `validate:"min=100,max=10000"`
}

// CORSConfig holds the allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Enabled             bool
	JWTSecret           string        `validate:"required,min=16"`
	AccessTokenDuration time.Duration `validate:"gt=0"`
	APIKeyHeader        string        `validate:"required"`
	APIKeyHashes        []string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled                  bool
	Backend                  string `validate:"oneof=memory redis"`
	RequestsPerMinute        int    `validate:"gt=0"`
	HistoryRequestsPerMinute int    `validate:"gt=0"`
	BurstSize                int    `validate:"gt=0"`
	ClientIPHeaderName       string
}

// RedisConfig holds connection settings for the shared rate limit store
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// WebSocketConfig holds stream connection settings
type WebSocketConfig struct {
	Timeout         time.Duration `validate:"gt=0"`
	PingInterval    time.Duration `validate:"gt=0"`
	CleanupInterval time.Duration `validate:"gt=0"`
	WriteWait       time.Duration `validate:"gt=0"`
	MaxMessageSize  int64         `validate:"gt=0"`
	SendBuffer      int           `validate:"gt=0"`
}

// KafkaConfig holds configuration for mirroring data updates to Kafka
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	Topic      string
	ClientID   string
	MaxRetries uint64
}

// DevelopmentJWTSecret is the default signing secret. It must be replaced in production.
const DevelopmentJWTSecret = "dev-secret-key-change-in-production"

// LoadConfig loads the configuration from file and environment variables.
// A missing file is not an error; defaults and environment apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Environment variables override, e.g. SERVER_PORT or DATAFEED_CHUNKSIZETHRESHOLD
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Server.Environment == "production" && c.Auth.JWTSecret == DevelopmentJWTSecret {
		return errors.New("invalid config: auth.jwtSecret must be changed in production")
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("invalid config: kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return errors.New("invalid config: redis.url is required for the redis rate limit backend")
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "10s")
	v.SetDefault("server.idleTimeout", "120s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Datafeed defaults
	v.SetDefault("datafeed.chunkSizeThreshold", 500)

	// CORS defaults
	v.SetDefault("cors.allowedOrigins", []string{"http://localhost:3000", "http://localhost:8501"})

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwtSecret", DevelopmentJWTSecret)
	v.SetDefault("auth.accessTokenDuration", "30m")
	v.SetDefault("auth.apiKeyHeader", "X-API-Key")
	v.SetDefault("auth.apiKeyHashes", []string{})

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.backend", "memory")
	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.historyRequestsPerMinute", 30)
	v.SetDefault("rateLimit.burstSize", 10)
	v.SetDefault("rateLimit.clientIPHeaderName", "")

	// Redis defaults
	v.SetDefault("redis.url", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// WebSocket defaults
	v.SetDefault("websocket.timeout", "300s")
	v.SetDefault("websocket.pingInterval", "30s")
	v.SetDefault("websocket.cleanupInterval", "60s")
	v.SetDefault("websocket.writeWait", "10s")
	v.SetDefault("websocket.maxMessageSize", 512*1024)
	v.SetDefault("websocket.sendBuffer", 256)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "chart-data-updates")
	v.SetDefault("kafka.clientId", "chart-datafeed")
	v.SetDefault("kafka.maxRetries", 3)
}
