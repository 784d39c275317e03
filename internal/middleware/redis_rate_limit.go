package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/utils"
)

// RedisRateLimitConfig holds configuration for the rate limiter
type RedisRateLimitConfig struct {
	RequestsPerMinute  int
	ClientIPHeaderName string
	// KeyPrefix separates the counters of different limits sharing a Redis
	KeyPrefix string
	Timeout   time.Duration
}

// fixedWindowScript increments the counter of the current minute window and
// returns {allowed, remaining, reset_time}
var fixedWindowScript = redis.NewScript(`
	local window_key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local now = tonumber(ARGV[2])
	local reset_time = (math.floor(now/60) + 1) * 60

	local current = tonumber(redis.call('GET', window_key) or "0")

	-- Check if already over limit
	if current >= limit then
		return {0, 0, reset_time}
	end

	current = redis.call('INCR', window_key)
	if current == 1 then
		redis.call('EXPIRE', window_key, 60)
	end

	return {1, limit - current, reset_time}
`)

// RedisRateLimit creates middleware for rate limiting requests using Redis.
// Requests are let through when Redis is unavailable.
func RedisRateLimit(redisClient redis.Scripter, config RedisRateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}

	return func(c *gin.Context) {
		clientIP := rateLimitKey(c, config.ClientIPHeaderName)

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		defer cancel()

		// Check rate limit
		allowed, remaining, resetTime, err := checkRateLimit(ctx, redisClient, config.KeyPrefix+clientIP, config.RequestsPerMinute)
		if err != nil {
			logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_ip", clientIP))
			c.Next() // Continue on error
			return
		}

		// Set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(resetTime-time.Now().Unix(), 10))
			utils.SendErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit checks if a request is allowed based on rate limits
func checkRateLimit(ctx context.Context, redisClient redis.Scripter, key string, requestsPerMinute int) (bool, int, int64, error) {
	now := time.Now()
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, now.Unix()/60) // Per minute window

	result, err := fixedWindowScript.Run(ctx, redisClient, []string{windowKey}, requestsPerMinute, now.Unix()).Result()
	if err != nil {
		return false, 0, 0, err
	}

	// Parse the result
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected rate limit script result: %v", result)
	}
	allowed, ok1 := resultArray[0].(int64)
	remaining, ok2 := resultArray[1].(int64)
	resetTime, ok3 := resultArray[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, 0, fmt.Errorf("unexpected rate limit script result: %v", result)
	}

	return allowed == 1, int(remaining), resetTime, nil
}
