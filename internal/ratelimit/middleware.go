package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/altexo/walletvault/internal/vault/config"
)

// KeyFunc extracts the rate-limit subject from a request. The default uses
// the authenticated user id header when present, falling back to client IP.
type KeyFunc func(c *gin.Context) string

// DefaultKeyFunc keys limits by user when authenticated, else by IP.
func DefaultKeyFunc(c *gin.Context) string {
	if uid := c.GetHeader("X-User-ID"); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.ClientIP()
}

// Middleware gates a route through the limiter and emits the standard
// X-RateLimit headers, plus Retry-After when exhausted.
func Middleware(limiter *Limiter, endpoint string, rule config.RateLimitRule, keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = DefaultKeyFunc
	}
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), keyFn(c), endpoint, rule)
		if err != nil {
			// Fail open on limiter errors: blocking all traffic on a store
			// outage is worse than briefly unmetered traffic.
			c.Next()
			return
		}
		setHeaders(c, d)
		if !d.Allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(d.RetryAfter/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func setHeaders(c *gin.Context, d Decision) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}
