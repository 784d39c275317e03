package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/chart-datafeed/internal/utils"
)

const bucketIdleTTL = 10 * time.Minute

// RateLimiter implements a token bucket rate limiting algorithm
type RateLimiter struct {
	requestsPerMinute int
	burstSize         int
	clients           map[string]*TokenBucket
	lastSweep         time.Time
	now               func() time.Time
	mu                sync.Mutex
}

// TokenBucket implements a token bucket for rate limiting
type TokenBucket struct {
	tokens       float64
	lastRefill   time.Time
	tokensPerSec float64
	maxTokens    float64
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		clients:           make(map[string]*TokenBucket),
		now:               time.Now,
	}
}

// Allow checks if a request is allowed based on rate limits
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	// Get or create bucket for the client
	bucket, exists := r.clients[key]
	if !exists {
		bucket = &TokenBucket{
			tokens:       float64(r.burstSize),
			lastRefill:   now,
			tokensPerSec: float64(r.requestsPerMinute) / 60.0,
			maxTokens:    float64(r.burstSize),
		}
		r.clients[key] = bucket
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.lastRefill = now
	bucket.tokens += elapsed * bucket.tokensPerSec
	if bucket.tokens > bucket.maxTokens {
		bucket.tokens = bucket.maxTokens
	}

	// Check if request can be allowed
	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true
	}

	return false
}

// Clients returns the number of tracked buckets
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// sweep drops buckets untouched for bucketIdleTTL, at most once a minute
func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < time.Minute {
		return
	}
	r.lastSweep = now
	for key, b := range r.clients {
		if now.Sub(b.lastRefill) > bucketIdleTTL {
			delete(r.clients, key)
		}
	}
}

// RateLimit creates middleware for rate limiting requests
func RateLimit(limiter *RateLimiter, clientIPHeaderName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(rateLimitKey(c, clientIPHeaderName)) {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limiter.requestsPerMinute)))
			utils.SendErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// rateLimitKey identifies the client by IP, or by a trusted header if configured
func rateLimitKey(c *gin.Context, clientIPHeaderName string) string {
	clientIP := c.ClientIP()
	if clientIPHeaderName != "" {
		if headerIP := c.GetHeader(clientIPHeaderName); headerIP != "" {
			clientIP = headerIP
		}
	}
	return clientIP
}

func retryAfterSeconds(requestsPerMinute int) int {
	if requestsPerMinute <= 0 {
		return 60
	}
	secs := 60 / requestsPerMinute
	if secs < 1 {
		secs = 1
	}
	return secs
}
