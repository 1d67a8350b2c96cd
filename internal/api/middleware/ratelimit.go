package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window request counter with one bucket per
// caller. Buckets for idle callers are swept periodically so the map
// does not grow without bound.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     int
	interval  time.Duration
	retention time.Duration
}

type bucket struct {
	used    int
	resetAt time.Time
}

// NewRateLimiter allows limit requests per interval for each key.
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     limit,
		interval:  interval,
		retention: interval * 10,
	}

	go rl.sweep()

	return rl
}

// Allow consumes one slot for key and reports whether the request may
// proceed.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.buckets[key]
	if b == nil || !now.Before(b.resetAt) {
		rl.buckets[key] = &bucket{used: 1, resetAt: now.Add(rl.interval)}
		return true
	}

	if b.used >= rl.limit {
		return false
	}
	b.used++
	return true
}

// sweep drops buckets left idle past the retention window.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.retention)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if now.Sub(b.resetAt) > rl.retention {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// limitKey picks the bucket for a request: authenticated callers are
// counted per credential, anonymous callers per client IP.
func limitKey(c *gin.Context) string {
	if keyID := c.GetString(string(ContextKeyID)); keyID != "" {
		return "key:" + keyID
	}
	if name := c.GetString(string(ContextName)); name != "" {
		return "operator:" + name
	}
	return "ip:" + c.ClientIP()
}

// RateLimit returns middleware enforcing limiter on every request.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(limitKey(c)) {
			tooManyRequests(c, limiter.interval)
			return
		}
		c.Next()
	}
}

// RateLimitByIP limits strictly by client IP, for endpoints that run
// before authentication.
func RateLimitByIP(limit int, interval time.Duration) gin.HandlerFunc {
	limiter := NewRateLimiter(limit, interval)
	return func(c *gin.Context) {
		if !limiter.Allow("ip:" + c.ClientIP()) {
			tooManyRequests(c, interval)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, interval time.Duration) {
	c.Header("Retry-After", strconv.Itoa(int(interval.Seconds())))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   "rate_limited",
		Message: "Too many requests. Please try again later.",
	})
}
