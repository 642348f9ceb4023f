package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig holds rate limiter configuration
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig suits a status page polled by a few clients.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 600,
		BurstSize:         60,
		CleanupInterval:   5 * time.Minute,
	}
}

// clientBucket tracks rate limit state for a single client
type clientBucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is a per-client token bucket.
type RateLimiter struct {
	clients   map[string]*clientBucket
	mu        sync.RWMutex
	config    RateLimiterConfig
	rate      float64 // tokens per second
	maxTokens float64
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		clients:   make(map[string]*clientBucket),
		config:    config,
		rate:      float64(config.RequestsPerMinute) / 60.0,
		maxTokens: float64(config.BurstSize),
		stop:      make(chan struct{}),
	}
	if config.CleanupInterval <= 0 {
		rl.config.CleanupInterval = 5 * time.Minute
	}

	go rl.cleanup()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanup drops clients idle for a full interval.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for key, bucket := range rl.clients {
		bucket.mu.Lock()
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.clients, key)
		}
		bucket.mu.Unlock()
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// Allow checks if a request from the given client should be allowed
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	bucket, exists := rl.clients[clientID]
	if !exists {
		bucket = &clientBucket{
			tokens:     rl.maxTokens,
			lastRefill: time.Now(),
		}
		rl.clients[clientID] = bucket
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > rl.maxTokens {
		bucket.tokens = rl.maxTokens
	}
	bucket.lastRefill = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}

	return false
}

// Middleware returns a Gin middleware handler for rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			retry := time.Duration(float64(time.Second) / rl.rate)
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
