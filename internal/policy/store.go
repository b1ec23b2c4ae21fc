package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/circuitbreaker"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
)

// LimitReader is the slice of the tenant rate limit repository the store
// needs.
type LimitReader interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantRateLimit, error)
}

type cacheEntry struct {
	row       *models.TenantRateLimit // nil means "tenant has no row", also cached
	fetchedAt time.Time
}

// Store resolves effective rate-limit policies with a short-TTL in-memory
// cache. The cache map is replaced wholesale on every write (copy-on-write
// behind atomic.Value) so request-path readers never take a lock and never
// observe a partially updated policy. A read failure degrades to the last
// cached value, then to the default policy; it never propagates to the
// request path. A circuit breaker stops a down database from being queried
// on every cache miss.
type Store struct {
	repo     LimitReader
	defaults Defaults
	ttl      time.Duration
	breaker  *circuitbreaker.CircuitBreaker
	counters *observability.Counters
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex // serializes cache writes
	cache atomic.Value
}

func NewStore(repo LimitReader, defaults Defaults, ttl time.Duration, counters *observability.Counters, logger *zap.Logger) *Store {
	s := &Store{
		repo:     repo,
		defaults: defaults,
		ttl:      ttl,
		breaker:  circuitbreaker.New(circuitbreaker.Config{MaxFailures: 5, Timeout: 15 * time.Second}),
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
	s.cache.Store(map[uuid.UUID]cacheEntry{})
	return s
}

// ResolvePolicy returns the effective policy for a tenant and endpoint. This
// is on the request hot path: a fresh cache entry costs one atomic load.
func (s *Store) ResolvePolicy(ctx context.Context, tenantID uuid.UUID, endpoint string) Policy {
	now := s.now()
	snapshot := s.cache.Load().(map[uuid.UUID]cacheEntry)

	entry, cached := snapshot[tenantID]
	if cached && now.Sub(entry.fetchedAt) < s.ttl {
		return build(entry.row, endpoint, s.defaults, now)
	}

	var row *models.TenantRateLimit
	err := s.breaker.Call(func() error {
		var readErr error
		row, readErr = s.repo.FindByTenant(ctx, tenantID)
		return readErr
	})

	if err != nil {
		s.counters.IncPolicyStoreDegraded()
		s.logger.Warn("policy store read failed, serving degraded policy",
			zap.String("tenant_id", tenantID.String()),
			zap.Bool("stale_cache", cached),
			zap.Error(err))

		if cached {
			return build(entry.row, endpoint, s.defaults, now)
		}
		return build(nil, endpoint, s.defaults, now)
	}

	s.put(tenantID, cacheEntry{row: row, fetchedAt: now})
	return build(row, endpoint, s.defaults, now)
}

// Invalidate drops a tenant's cached policy. Called by the admin service
// after every mutation.
func (s *Store) Invalidate(tenantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cache.Load().(map[uuid.UUID]cacheEntry)
	if _, ok := old[tenantID]; !ok {
		return
	}

	next := make(map[uuid.UUID]cacheEntry, len(old))
	for k, v := range old {
		if k != tenantID {
			next[k] = v
		}
	}
	s.cache.Store(next)
}

func (s *Store) put(tenantID uuid.UUID, entry cacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cache.Load().(map[uuid.UUID]cacheEntry)
	next := make(map[uuid.UUID]cacheEntry, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[tenantID] = entry
	s.cache.Store(next)
}
