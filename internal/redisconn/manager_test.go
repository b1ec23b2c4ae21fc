package redisconn

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
)

// An unroutable port with a tiny retry budget keeps these tests fast.
func unreachableConfig() config.RedisConfig {
	return config.RedisConfig{
		MainURL:      "redis://127.0.0.1:1/0",
		RateLimitURL: "redis://127.0.0.1:1/1",
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Step: time.Millisecond}
}

func TestInitializeFallsBackInDevelopment(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeDevelopment, fastRetry(), zap.NewNop())

	err := m.Initialize(context.Background())

	require.NoError(t, err)
	assert.True(t, m.IsFallbackMode())
	assert.False(t, m.IsConnected())
}

func TestInitializeFatalInProduction(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeProduction, fastRetry(), zap.NewNop())

	err := m.Initialize(context.Background())

	assert.Error(t, err)
	assert.False(t, m.IsFallbackMode())
}

func TestInitializeFatalInStaging(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeStaging, fastRetry(), zap.NewNop())

	assert.Error(t, m.Initialize(context.Background()))
}

func TestGetClientInFallbackModeReturnsErrUnavailable(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeDevelopment, fastRetry(), zap.NewNop())
	require.NoError(t, m.Initialize(context.Background()))

	_, err := m.GetRateLimitClient(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = m.GetMainClient(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

// silentListener accepts connections but never responds, simulating an
// unresponsive Redis that neither refuses nor answers.
func silentListener(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	return ln
}

func TestGetClientHonorsCallerDeadline(t *testing.T) {
	ln := silentListener(t)
	url := fmt.Sprintf("redis://%s/0", ln.Addr())

	m := NewManager(config.RedisConfig{MainURL: url, RateLimitURL: url},
		config.ModeProduction, fastRetry(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.GetRateLimitClient(ctx)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, time.Second,
		"an unresponsive Redis must not hold the request past its deadline")
}

func TestInitializeHonorsContextDeadline(t *testing.T) {
	ln := silentListener(t)
	url := fmt.Sprintf("redis://%s/0", ln.Addr())

	m := NewManager(config.RedisConfig{MainURL: url, RateLimitURL: url},
		config.ModeProduction, fastRetry(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Initialize(ctx)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeDevelopment, fastRetry(), zap.NewNop())
	require.NoError(t, m.Initialize(context.Background()))

	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}

func TestStatsEmptyWithoutConnections(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeDevelopment, fastRetry(), zap.NewNop())
	require.NoError(t, m.Initialize(context.Background()))

	assert.Empty(t, m.Stats(), "fallback mode holds no pools to report")
}

func TestGetClientAfterCloseFails(t *testing.T) {
	m := NewManager(unreachableConfig(), config.ModeDevelopment, fastRetry(), zap.NewNop())
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Close())

	_, err := m.GetMainClient(context.Background())
	assert.Error(t, err)
}
