package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/ratelimit"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/redisconn"
)

// WindowStats are the per-tenant totals the check script accumulates in
// Redis for one window.
type WindowStats struct {
	Total   int64
	Blocked int64
}

// StatsReader supplies per-tenant request totals for a window. Faked in
// tests, Redis-backed in production.
type StatsReader interface {
	ReadWindowStats(ctx context.Context, windowStart time.Time) (map[uuid.UUID]WindowStats, error)
}

// RedisStatsReader scans the stats hashes the enforcer's check script writes
// on the rate-limit connection.
type RedisStatsReader struct {
	manager *redisconn.Manager
}

func NewRedisStatsReader(manager *redisconn.Manager) *RedisStatsReader {
	return &RedisStatsReader{manager: manager}
}

func (r *RedisStatsReader) ReadWindowStats(ctx context.Context, windowStart time.Time) (map[uuid.UUID]WindowStats, error) {
	client, err := r.manager.GetRateLimitClient(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := client.Keys(ctx, ratelimit.StatsKeyPattern(windowStart))
	if err != nil {
		return nil, err
	}

	stats := make(map[uuid.UUID]WindowStats, len(keys))
	for _, key := range keys {
		tenantID, err := ratelimit.TenantFromStatsKey(key)
		if err != nil {
			continue
		}

		fields, err := client.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}

		var ws WindowStats
		if v, ok := fields["total"]; ok {
			ws.Total, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := fields["blocked"]; ok {
			ws.Blocked, _ = strconv.ParseInt(v, 10, 64)
		}
		stats[tenantID] = ws
	}

	return stats, nil
}
