package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/policy"
)

// Window is the fixed rate-limit window. requests_per_hour + burst_size
// requests are allowed per key per window.
const Window = time.Hour

// statsTTL keeps the per-tenant stats hash around long enough for the
// aggregator to read it after the window closes.
const statsTTL = 3 * time.Hour

// Request identifies one request attempt to be checked.
type Request struct {
	TenantID  uuid.UUID
	UserID    *uuid.UUID
	Endpoint  string
	Method    string
	ClientID  string // identity the counter is keyed on (API key, user, or IP)
	ClientIP  string
	UserAgent string
}

// Result is the allow/deny decision handed to the HTTP layer, which is
// responsible for turning a deny into a 429 with Retry-After and
// X-RateLimit-* headers.
type Result struct {
	Allowed           bool
	Limit             int
	Remaining         int
	RetryAfterSeconds int
	CurrentCount      int64
	WindowStart       time.Time
	WindowEnd         time.Time
	Bypassed          bool
}

// ViolationSink receives denial records. Implemented by the violation
// recorder; must never block.
type ViolationSink interface {
	Record(v *models.RateLimitViolation)
}

// Enforcer decides allow/deny for a single request attempt. The only
// blocking call on this path is the single atomic Redis round trip, bounded
// by the configured check timeout. When the rate-limit store is unreachable
// the configured fail-open/fail-closed policy applies; in development
// fallback mode an in-memory limiter takes over instead so 429 handling
// still gets exercised.
type Enforcer struct {
	policies *policy.Store
	store    CounterStore
	recorder ViolationSink
	counters *observability.Counters
	cfg      config.RateLimitConfig
	fallback *MemoryLimiter // nil outside development
	logger   *zap.Logger
	now      func() time.Time
}

func NewEnforcer(policies *policy.Store, store CounterStore, recorder ViolationSink, counters *observability.Counters, cfg config.RateLimitConfig, fallback *MemoryLimiter, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		policies: policies,
		store:    store,
		recorder: recorder,
		counters: counters,
		cfg:      cfg,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Check runs the allow/deny decision for one request.
func (e *Enforcer) Check(ctx context.Context, req Request) Result {
	start := time.Now()
	defer func() {
		e.counters.ObserveCheckDuration(time.Since(start))
	}()

	now := e.now()
	pol := e.policies.ResolvePolicy(ctx, req.TenantID, req.Endpoint)

	if pol.Bypass {
		if pol.BypassKind == policy.BypassEmergency {
			e.counters.IncBypassEvent()
			e.logger.Info("request allowed through emergency bypass",
				zap.String("tenant_id", req.TenantID.String()),
				zap.String("endpoint", req.Endpoint))
		}
		return Result{Allowed: true, Bypassed: true, Limit: pol.Limit}
	}

	windowStart := now.Truncate(Window)
	windowEnd := windowStart.Add(Window)
	allowedTotal := int64(pol.Limit + pol.Burst)

	key := counterKey(req.TenantID, req.Endpoint, req.ClientID, windowStart)
	statsKey := StatsKey(req.TenantID, windowStart)

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.CheckTimeout)
	count, err := e.store.CheckAndIncrement(checkCtx, key, statsKey, allowedTotal, windowEnd.Sub(now), statsTTL)
	cancel()

	if err != nil {
		// A timed-out check is the same case as an unreachable store
		e.counters.IncRedisError()
		e.logger.Warn("rate limit store unavailable",
			zap.String("tenant_id", req.TenantID.String()),
			zap.Bool("fail_open", e.cfg.FailOpen),
			zap.Error(err))
		return e.degraded(pol, now, windowStart, windowEnd, key)
	}

	retryAfter := retryAfterSeconds(now, windowEnd)
	remaining := int(allowedTotal - count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:           count <= allowedTotal,
		Limit:             pol.Limit,
		Remaining:         remaining,
		RetryAfterSeconds: retryAfter,
		CurrentCount:      count,
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
	}

	if !result.Allowed {
		e.recorder.Record(&models.RateLimitViolation{
			TenantID:          req.TenantID,
			UserID:            req.UserID,
			Endpoint:          req.Endpoint,
			Method:            req.Method,
			RateLimit:         pol.Limit,
			RequestCount:      int(count),
			ClientIP:          req.ClientIP,
			UserAgent:         req.UserAgent,
			ViolationTime:     now,
			WindowStart:       windowStart,
			WindowEnd:         windowEnd,
			RetryAfterSeconds: retryAfter,
			Severity:          ClassifySeverity(count, pol.Limit),
			AutomatedResponse: "blocked",
		})
	}

	return result
}

// degraded applies the explicit unavailable-store policy: the in-memory
// limiter in development fallback mode, otherwise fail-open or fail-closed
// per configuration. Never an error to the caller.
func (e *Enforcer) degraded(pol policy.Policy, now, windowStart, windowEnd time.Time, key string) Result {
	if e.fallback != nil {
		allowed := e.fallback.Allow(key, pol.Limit, pol.Burst)
		result := Result{
			Allowed:     allowed,
			Limit:       pol.Limit,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		}
		if !allowed {
			result.RetryAfterSeconds = retryAfterSeconds(now, windowEnd)
		}
		return result
	}

	result := Result{
		Allowed:     e.cfg.FailOpen,
		Limit:       pol.Limit,
		Remaining:   pol.Limit + pol.Burst,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	if !result.Allowed {
		result.Remaining = 0
		result.RetryAfterSeconds = retryAfterSeconds(now, windowEnd)
	}
	return result
}

func retryAfterSeconds(now, windowEnd time.Time) int {
	seconds := int(math.Ceil(windowEnd.Sub(now).Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

// counterKey is stable across restarts:
// ratelimit:{tenant}:{endpoint}:{client}:{window_start}. The client segment
// is omitted when no client identity was resolved.
func counterKey(tenantID uuid.UUID, endpoint, clientID string, windowStart time.Time) string {
	if clientID == "" {
		return fmt.Sprintf("ratelimit:%s:%s:%d", tenantID, endpoint, windowStart.Unix())
	}
	return fmt.Sprintf("ratelimit:%s:%s:%s:%d", tenantID, endpoint, clientID, windowStart.Unix())
}

// StatsKey names the per-tenant per-window stats hash the check script
// maintains and the aggregator reads.
func StatsKey(tenantID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:stats:%s:%d", tenantID, windowStart.Unix())
}

// StatsKeyPattern matches all tenants' stats hashes for one window.
func StatsKeyPattern(windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:stats:*:%d", windowStart.Unix())
}

// TenantFromStatsKey extracts the tenant ID from a stats key.
func TenantFromStatsKey(key string) (uuid.UUID, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "ratelimit" || parts[1] != "stats" {
		return uuid.Nil, fmt.Errorf("malformed stats key %q", key)
	}
	return uuid.Parse(parts[2])
}
