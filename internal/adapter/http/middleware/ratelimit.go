package middleware

import (
	"fmt"
	"strconv"
	"time"

	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the limits per endpoint group. bidsPerMinute
// comes from configuration; a value below 1 falls back to 30.
func DefaultRateLimitRules(bidsPerMinute int) map[string]RateLimitRule {
	if bidsPerMinute < 1 {
		bidsPerMinute = 30
	}
	return map[string]RateLimitRule{
		"bids":     {Limit: int64(bidsPerMinute), Window: time.Minute},
		"checkout": {Limit: 10, Window: time.Minute},
		"webhook":  {Limit: 600, Window: time.Minute},
		"read":     {Limit: 120, Window: time.Minute},
		"staff":    {Limit: 60, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Store errors let the request through.
func RateLimiter(store ports.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier keys authenticated callers by ID and everyone else by IP.
func extractIdentifier(c *gin.Context) string {
	if actor, ok := ActorFrom(c); ok {
		return actor.ID.String()
	}
	return c.ClientIP()
}
