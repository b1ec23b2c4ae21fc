package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/redisconn"
)

// checkScript is the atomic check-and-increment. One round trip does all of:
// bump the window counter (setting its TTL on creation), and bump the
// per-tenant stats hash the aggregator reads later. Concurrent requests for
// the same key are serialized by Redis, so two requests can never both take
// the last slot.
const checkScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
redis.call('HINCRBY', KEYS[2], 'total', 1)
if count > tonumber(ARGV[2]) then
  redis.call('HINCRBY', KEYS[2], 'blocked', 1)
end
if redis.call('TTL', KEYS[2]) < 0 then
  redis.call('EXPIRE', KEYS[2], ARGV[3])
end
return count
`

// CounterStore is the atomic counter primitive the enforcer runs against.
// Faked in tests; backed by the rate-limit Redis connection in production.
type CounterStore interface {
	// CheckAndIncrement atomically increments the window counter at key and
	// returns the new count. statsKey accumulates total/blocked counts for
	// the same tenant and window.
	CheckAndIncrement(ctx context.Context, key, statsKey string, allowedTotal int64, windowTTL, statsTTL time.Duration) (int64, error)
}

// RedisStore executes the check script against the dedicated rate-limit
// connection owned by the connection manager.
type RedisStore struct {
	manager *redisconn.Manager
}

func NewRedisStore(manager *redisconn.Manager) *RedisStore {
	return &RedisStore{manager: manager}
}

func (s *RedisStore) CheckAndIncrement(ctx context.Context, key, statsKey string, allowedTotal int64, windowTTL, statsTTL time.Duration) (int64, error) {
	client, err := s.manager.GetRateLimitClient(ctx)
	if err != nil {
		return 0, err
	}

	result, err := client.Eval(ctx, checkScript,
		[]string{key, statsKey},
		ttlSeconds(windowTTL),
		allowedTotal,
		ttlSeconds(statsTTL),
	)
	if err != nil {
		return 0, err
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected check script result type %T", result)
	}

	return count, nil
}

// ttlSeconds rounds a TTL up to whole seconds with a floor of 1. Truncating
// would yield EXPIRE 0 in the final second of a window, which deletes the
// counter and admits every request in the window tail.
func ttlSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
