package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/ratelimit"
)

// Checker is the enforcement decision the middleware depends on.
type Checker interface {
	Check(ctx context.Context, req ratelimit.Request) ratelimit.Result
}

// RateLimit enforces per-tenant limits on every request carrying an
// X-Tenant-ID header. Requests without a tenant pass through untouched.
// Enforcement never produces a 5xx: store trouble is already resolved to an
// allow or deny decision inside the enforcer.
func RateLimit(checker Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.GetHeader("X-Tenant-ID"))
		if err != nil {
			c.Next()
			return
		}

		req := ratelimit.Request{
			TenantID:  tenantID,
			Endpoint:  c.FullPath(),
			Method:    c.Request.Method,
			ClientID:  clientIdentity(c),
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		if req.Endpoint == "" {
			req.Endpoint = c.Request.URL.Path
		}
		if userID, err := uuid.Parse(c.GetHeader("X-User-ID")); err == nil {
			req.UserID = &userID
		}

		result := checker.Check(c.Request.Context(), req)

		if result.Bypassed {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.WindowEnd.Unix(), 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"limit":       result.Limit,
				"retry_after": result.RetryAfterSeconds,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// clientIdentity picks the most specific identity available for the counter
// key: API key, then user, then client IP.
func clientIdentity(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if userID := c.GetHeader("X-User-ID"); userID != "" {
		return userID
	}
	return c.ClientIP()
}
