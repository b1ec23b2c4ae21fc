package redisconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/storage"
)

const pingTimeout = 2 * time.Second

// Manager owns the lifecycle of the two Redis connections: "main" for the
// general cache and "rate-limit" for the dedicated rate-limit store. It is
// the only component allowed to open Redis connections. In development mode a
// failed initialization degrades to fallback mode, where client getters
// return ErrUnavailable instead of a handle; any other mode treats the
// failure as fatal.
type Manager struct {
	cfg    config.RedisConfig
	mode   config.ExecutionMode
	retry  RetryPolicy
	logger *zap.Logger

	mu        sync.RWMutex
	main      *storage.RedisClient
	rateLimit *storage.RedisClient
	fallback  bool
	closed    bool

	reconnectMu sync.Mutex // at most one request-path reconnect at a time
}

func NewManager(cfg config.RedisConfig, mode config.ExecutionMode, retry RetryPolicy, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		mode:   mode,
		retry:  retry,
		logger: logger,
	}
}

// Initialize establishes both connections, retrying transient failures per
// the retry policy. In a fallback-eligible mode total failure switches the
// manager into fallback mode instead of returning an error.
func (m *Manager) Initialize(ctx context.Context) error {
	main, mainErr := m.connectWithRetry(ctx, "main", m.cfg.MainURL)
	rateLimit, rlErr := m.connectWithRetry(ctx, "rate-limit", m.cfg.RateLimitURL)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.main = main
	m.rateLimit = rateLimit

	if mainErr == nil && rlErr == nil {
		m.fallback = false
		m.logger.Info("redis connections established",
			zap.String("main", m.cfg.MainURL),
			zap.String("rate_limit", m.cfg.RateLimitURL))
		return nil
	}

	err := mainErr
	if err == nil {
		err = rlErr
	}

	if !m.mode.FallbackEligible() {
		return fmt.Errorf("redis initialization failed in %s mode: %w", m.mode, err)
	}

	m.fallback = true
	m.logger.Warn("redis unreachable, entering fallback mode",
		zap.String("mode", m.mode.String()),
		zap.Error(err))
	return nil
}

func (m *Manager) connectWithRetry(ctx context.Context, name, url string) (*storage.RedisClient, error) {
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		if delay := m.retry.Delay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		client, err := storage.NewRedis(ctx, url, m.cfg.PoolSize)
		if err == nil {
			return client, nil
		}
		lastErr = err

		if !IsTransient(err) {
			m.logger.Error("redis connection failed with non-transient error",
				zap.String("connection", name),
				zap.Error(err))
			return nil, err
		}

		m.logger.Warn("redis connection attempt failed",
			zap.String("connection", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.retry.MaxAttempts),
			zap.Duration("next_backoff", m.retry.Delay(attempt+1)),
			zap.Error(err))
	}

	return nil, fmt.Errorf("redis %s connection failed after %d attempts: %w", name, m.retry.MaxAttempts, lastErr)
}

// GetMainClient returns the general-purpose client after a liveness probe.
func (m *Manager) GetMainClient(ctx context.Context) (*storage.RedisClient, error) {
	return m.getClient(ctx, "main", m.cfg.MainURL, func() *storage.RedisClient { return m.main }, func(c *storage.RedisClient) { m.main = c })
}

// GetRateLimitClient returns the dedicated rate-limit client after a liveness
// probe.
func (m *Manager) GetRateLimitClient(ctx context.Context) (*storage.RedisClient, error) {
	return m.getClient(ctx, "rate-limit", m.cfg.RateLimitURL, func() *storage.RedisClient { return m.rateLimit }, func(c *storage.RedisClient) { m.rateLimit = c })
}

func (m *Manager) getClient(ctx context.Context, name, url string, get func() *storage.RedisClient, set func(*storage.RedisClient)) (*storage.RedisClient, error) {
	m.mu.RLock()
	client := get()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("connection manager is closed")
	}

	if client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			return client, nil
		}
		m.logger.Warn("redis liveness probe failed, reconnecting",
			zap.String("connection", name),
			zap.Error(err))
	}

	// One reconnect attempt, bounded by the caller's deadline. No retry loop
	// here: the request path cannot afford startup-style backoff. Only one
	// goroutine dials at a time; the losers report unavailable instead of
	// queueing up a reconnect storm.
	if !m.reconnectMu.TryLock() {
		if m.mode.FallbackEligible() {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("redis %s unavailable, reconnect in progress", name)
	}
	defer m.reconnectMu.Unlock()

	// The previous lock holder may have already replaced the handle
	m.mu.RLock()
	if fresh := get(); fresh != nil && fresh != client {
		m.mu.RUnlock()
		return fresh, nil
	}
	m.mu.RUnlock()

	reconnected, err := storage.NewRedis(ctx, url, m.cfg.PoolSize)
	if err != nil {
		m.logger.Warn("redis reconnect failed",
			zap.String("connection", name),
			zap.Error(err))

		if m.mode.FallbackEligible() {
			m.mu.Lock()
			m.fallback = true
			set(nil)
			m.mu.Unlock()
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("redis %s reconnect failed: %w", name, err)
	}

	m.mu.Lock()
	if old := get(); old != nil {
		old.Close()
	}
	set(reconnected)
	m.fallback = false
	m.mu.Unlock()

	m.logger.Info("redis reconnected", zap.String("connection", name))
	return reconnected, nil
}

// PoolStats summarizes one connection pool for the health endpoint.
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// Stats reports pool statistics per held connection. Connections that are
// down (or all of them, in fallback mode) are absent from the map.
func (m *Manager) Stats() map[string]PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]PoolStats, 2)
	if m.main != nil {
		stats["main"] = poolStats(m.main)
	}
	if m.rateLimit != nil {
		stats["rate_limit"] = poolStats(m.rateLimit)
	}
	return stats
}

func poolStats(client *storage.RedisClient) PoolStats {
	s := client.PoolStats()
	return PoolStats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}

// IsConnected reports whether both connections are currently held.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main != nil && m.rateLimit != nil && !m.closed
}

func (m *Manager) IsFallbackMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fallback
}

// Close releases both handles. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	if m.main != nil {
		if err := m.main.Close(); err != nil {
			firstErr = err
		}
		m.main = nil
	}
	if m.rateLimit != nil {
		if err := m.rateLimit.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.rateLimit = nil
	}

	return firstErr
}
