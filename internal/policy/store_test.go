package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
)

type fakeLimitReader struct {
	row   *models.TenantRateLimit
	err   error
	calls int
}

func (f *fakeLimitReader) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantRateLimit, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.row, nil
}

func newTestStore(repo LimitReader, ttl time.Duration) (*Store, *observability.Counters) {
	counters := observability.NewCounters(prometheus.NewRegistry())
	return NewStore(repo, testDefaults, ttl, counters, zap.NewNop()), counters
}

func TestResolvePolicyCachesWithinTTL(t *testing.T) {
	repo := &fakeLimitReader{row: &models.TenantRateLimit{
		Enabled:         true,
		RequestsPerHour: 5000,
		BurstSize:       50,
	}}
	store, _ := newTestStore(repo, time.Minute)
	tenantID := uuid.New()

	for i := 0; i < 5; i++ {
		pol := store.ResolvePolicy(context.Background(), tenantID, "/")
		assert.Equal(t, 5000, pol.Limit)
	}

	assert.Equal(t, 1, repo.calls)
}

func TestResolvePolicyRefetchesAfterTTL(t *testing.T) {
	repo := &fakeLimitReader{row: &models.TenantRateLimit{Enabled: true, RequestsPerHour: 5000}}
	store, _ := newTestStore(repo, time.Minute)
	tenantID := uuid.New()

	current := time.Now()
	store.now = func() time.Time { return current }

	store.ResolvePolicy(context.Background(), tenantID, "/")
	current = current.Add(2 * time.Minute)
	store.ResolvePolicy(context.Background(), tenantID, "/")

	assert.Equal(t, 2, repo.calls)
}

func TestResolvePolicyCachesMissingRow(t *testing.T) {
	repo := &fakeLimitReader{}
	store, _ := newTestStore(repo, time.Minute)
	tenantID := uuid.New()

	pol := store.ResolvePolicy(context.Background(), tenantID, "/")
	store.ResolvePolicy(context.Background(), tenantID, "/")

	assert.Equal(t, testDefaults.RequestsPerHour, pol.Limit)
	assert.Equal(t, 1, repo.calls, "a nil row should be cached like any other")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	repo := &fakeLimitReader{row: &models.TenantRateLimit{Enabled: true, RequestsPerHour: 5000}}
	store, _ := newTestStore(repo, time.Minute)
	tenantID := uuid.New()

	store.ResolvePolicy(context.Background(), tenantID, "/")
	store.Invalidate(tenantID)
	store.ResolvePolicy(context.Background(), tenantID, "/")

	assert.Equal(t, 2, repo.calls)
}

func TestResolvePolicyServesStaleCacheOnReadFailure(t *testing.T) {
	repo := &fakeLimitReader{row: &models.TenantRateLimit{Enabled: true, RequestsPerHour: 5000}}
	store, counters := newTestStore(repo, time.Minute)
	tenantID := uuid.New()

	current := time.Now()
	store.now = func() time.Time { return current }

	store.ResolvePolicy(context.Background(), tenantID, "/")

	repo.err = errors.New("connection refused")
	current = current.Add(2 * time.Minute)

	pol := store.ResolvePolicy(context.Background(), tenantID, "/")

	assert.Equal(t, 5000, pol.Limit, "stale cache should survive a read failure")
	assert.Equal(t, int64(1), counters.SnapshotAndReset().PolicyStoreDegraded)
}

func TestResolvePolicyDefaultsWhenNothingCached(t *testing.T) {
	repo := &fakeLimitReader{err: errors.New("connection refused")}
	store, counters := newTestStore(repo, time.Minute)

	pol := store.ResolvePolicy(context.Background(), uuid.New(), "/")

	assert.False(t, pol.Bypass)
	assert.Equal(t, testDefaults.RequestsPerHour, pol.Limit)
	assert.Equal(t, int64(1), counters.SnapshotAndReset().PolicyStoreDegraded)
}

func TestResolvePolicyBreakerStopsHammeringDownStore(t *testing.T) {
	repo := &fakeLimitReader{err: errors.New("connection refused")}
	store, _ := newTestStore(repo, time.Minute)

	for i := 0; i < 20; i++ {
		store.ResolvePolicy(context.Background(), uuid.New(), "/")
	}

	assert.Equal(t, 5, repo.calls, "breaker should open after max failures")
}
