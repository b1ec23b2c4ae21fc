package redisconn

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
)

// Integration tests against a real Redis. Skipped when none is reachable.
func newIntegrationManager(t *testing.T) *Manager {
	t.Helper()

	url := os.Getenv("RATE_LIMIT_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}

	m := NewManager(config.RedisConfig{MainURL: url, RateLimitURL: url},
		config.ModeProduction, DefaultRetryPolicy(), zap.NewNop())

	if err := m.Initialize(context.Background()); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	return m
}

func TestStatsReportsHeldPools(t *testing.T) {
	m := newIntegrationManager(t)

	stats := m.Stats()
	assert.Contains(t, stats, "main")
	assert.Contains(t, stats, "rate_limit")
}

func TestGetClientReturnsLiveHandle(t *testing.T) {
	m := newIntegrationManager(t)

	client, err := m.GetRateLimitClient(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
}
