// Package middleware holds the HTTP admission layer: rate limiting and
// request validation run before any handler sees the request.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forbiddenlink/mindchain-sub000/internal/metrics"
)

// Policy is one fixed-window rate limit: at most Requests per Window per
// client key.
type Policy struct {
	Name     string
	Requests int
	Window   time.Duration
}

// window tracks one client's count inside the current fixed window.
type window struct {
	start time.Time
	count int
}

// RateLimiter enforces independent fixed-window policies. Exhausting one
// policy never consumes budget from another.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRateLimiter creates the limiter. m may be nil.
func NewRateLimiter(m *metrics.Metrics) *RateLimiter {
	if m == nil {
		m = metrics.NewNop()
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		metrics: m,
		now:     time.Now,
	}
}

// SetClock replaces the time source, for window-expiry tests.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// allow consumes one unit from the client's window under the policy and
// reports the remaining budget. When denied, retryAfter is the time until
// the window resets.
func (rl *RateLimiter) allow(policy Policy, clientKey string) (allowed bool, remaining int, retryAfter time.Duration) {
	key := policy.Name + ":" + clientKey

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= policy.Window {
		w = &window{start: now}
		rl.windows[key] = w
	}

	if w.count >= policy.Requests {
		return false, 0, policy.Window - now.Sub(w.start)
	}
	w.count++
	return true, policy.Requests - w.count, 0
}

// Middleware returns the gin handler enforcing one policy, keyed by client
// IP. A denied request gets 429 with Retry-After and the error envelope.
func (rl *RateLimiter) Middleware(policy Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := rl.allow(policy, c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			rl.metrics.RateLimited.Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"error":      "rate limit exceeded for " + policy.Name + " requests",
				"code":       "rate_limit",
				"retryAfter": secs,
			})
			return
		}
		c.Next()
	}
}

// Prune drops windows that ended before the cutoff. Called periodically by
// the server loop to bound memory on churning client IPs.
func (rl *RateLimiter) Prune(maxAge time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.windows {
		if now.Sub(w.start) > maxAge {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}
