package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
)

type fakeViolationStats struct {
	counts    map[uuid.UUID]int64
	violators []uuid.UUID
}

func (f *fakeViolationStats) CountByTimeRange(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	if tenantID == nil {
		var total int64
		for _, n := range f.counts {
			total += n
		}
		return total, nil
	}
	return f.counts[*tenantID], nil
}

func (f *fakeViolationStats) CountDistinctUsers(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeViolationStats) CountDistinctIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeViolationStats) TopEndpoints(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.EndpointCount, error) {
	return nil, nil
}

func (f *fakeViolationStats) TopViolatingIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.IPCount, error) {
	return nil, nil
}

func (f *fakeViolationStats) TenantsWithViolations(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	return f.violators, nil
}

func (f *fakeViolationStats) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

// fakeMetricStore mimics the repository's upsert keying so idempotency is
// observable: re-running a period replaces rows instead of adding them.
type fakeMetricStore struct {
	rows map[string]*models.RateLimitMetric
}

func newFakeMetricStore() *fakeMetricStore {
	return &fakeMetricStore{rows: make(map[string]*models.RateLimitMetric)}
}

func metricKey(tenantID *uuid.UUID, period string, periodStart time.Time) string {
	tenant := "global"
	if tenantID != nil {
		tenant = tenantID.String()
	}
	return fmt.Sprintf("%s/%s/%d", tenant, period, periodStart.Unix())
}

func (f *fakeMetricStore) Upsert(ctx context.Context, metric *models.RateLimitMetric) error {
	copied := *metric
	f.rows[metricKey(metric.TenantID, metric.AggregationPeriod, metric.PeriodStart)] = &copied
	return nil
}

func (f *fakeMetricStore) ListByPeriodRange(ctx context.Context, period string, from, to time.Time) ([]models.RateLimitMetric, error) {
	var out []models.RateLimitMetric
	for _, row := range f.rows {
		if row.AggregationPeriod != period {
			continue
		}
		if row.PeriodStart.Before(from) || !row.PeriodStart.Before(to) {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeMetricStore) get(tenantID *uuid.UUID, period string, periodStart time.Time) *models.RateLimitMetric {
	return f.rows[metricKey(tenantID, period, periodStart)]
}

type fakeStatsReader struct {
	stats map[uuid.UUID]WindowStats
	err   error
}

func (f *fakeStatsReader) ReadWindowStats(ctx context.Context, windowStart time.Time) (map[uuid.UUID]WindowStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func newTestAggregator(violations ViolationStats, store MetricStore, stats StatsReader) *Aggregator {
	counters := observability.NewCounters(prometheus.NewRegistry())
	return NewAggregator(violations, store, stats, counters, time.Hour, 0, zap.NewNop())
}

func TestAggregateHour(t *testing.T) {
	tenantA := uuid.New()
	tenantB := uuid.New()
	periodStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	violations := &fakeViolationStats{
		counts:    map[uuid.UUID]int64{tenantA: 12, tenantB: 3},
		violators: []uuid.UUID{tenantA, tenantB},
	}
	store := newFakeMetricStore()
	stats := &fakeStatsReader{stats: map[uuid.UUID]WindowStats{
		tenantA: {Total: 500, Blocked: 12},
	}}

	agg := newTestAggregator(violations, store, stats)
	snap := observability.Snapshot{RedisErrors: 2, BypassEvents: 1, AvgCheckMs: 1.5, MaxCheckMs: 9}

	require.NoError(t, agg.AggregateHour(context.Background(), periodStart, snap))

	rowA := store.get(&tenantA, models.PeriodHour, periodStart)
	require.NotNil(t, rowA)
	assert.Equal(t, int64(500), rowA.TotalRequests)
	assert.Equal(t, int64(12), rowA.BlockedRequests)

	// Tenant B had no stats hash, so the violation count is the floor
	rowB := store.get(&tenantB, models.PeriodHour, periodStart)
	require.NotNil(t, rowB)
	assert.Equal(t, int64(3), rowB.TotalRequests)
	assert.Equal(t, int64(3), rowB.BlockedRequests)

	global := store.get(nil, models.PeriodHour, periodStart)
	require.NotNil(t, global)
	assert.Equal(t, int64(503), global.TotalRequests)
	assert.Equal(t, int64(15), global.BlockedRequests)
	assert.Equal(t, int64(2), global.RedisErrors)
	assert.Equal(t, int64(1), global.BypassEvents)
	assert.Equal(t, 1.5, global.AvgProcessingTimeMs)
	assert.Equal(t, float64(9), global.MaxProcessingTimeMs)
}

func TestAggregateHourIsIdempotent(t *testing.T) {
	tenantA := uuid.New()
	periodStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	violations := &fakeViolationStats{
		counts:    map[uuid.UUID]int64{tenantA: 4},
		violators: []uuid.UUID{tenantA},
	}
	store := newFakeMetricStore()
	stats := &fakeStatsReader{stats: map[uuid.UUID]WindowStats{tenantA: {Total: 100, Blocked: 4}}}

	agg := newTestAggregator(violations, store, stats)
	snap := observability.Snapshot{RedisErrors: 1}

	require.NoError(t, agg.AggregateHour(context.Background(), periodStart, snap))
	require.NoError(t, agg.AggregateHour(context.Background(), periodStart, snap))

	assert.Len(t, store.rows, 2, "re-running a period must replace rows, not add")
	assert.Equal(t, int64(100), store.get(&tenantA, models.PeriodHour, periodStart).TotalRequests)
	assert.Equal(t, int64(1), store.get(nil, models.PeriodHour, periodStart).RedisErrors)
}

func TestAggregateHourSurvivesMissingStats(t *testing.T) {
	tenantA := uuid.New()
	periodStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	violations := &fakeViolationStats{
		counts:    map[uuid.UUID]int64{tenantA: 7},
		violators: []uuid.UUID{tenantA},
	}
	store := newFakeMetricStore()
	stats := &fakeStatsReader{err: fmt.Errorf("connection refused")}

	agg := newTestAggregator(violations, store, stats)

	require.NoError(t, agg.AggregateHour(context.Background(), periodStart, observability.Snapshot{}))

	row := store.get(&tenantA, models.PeriodHour, periodStart)
	require.NotNil(t, row)
	assert.Equal(t, int64(7), row.BlockedRequests)
}

func TestTickDayRolloverUsesUTCBoundaries(t *testing.T) {
	violations := &fakeViolationStats{}
	store := newFakeMetricStore()

	agg := newTestAggregator(violations, store, &fakeStatsReader{})

	// 04:30 in UTC+5 is 23:30 UTC the previous day: the closed hour is
	// 23:00 UTC of March 1st, which must also close out March 1st's day row
	loc := time.FixedZone("UTC+5", 5*3600)
	agg.tick(time.Date(2026, 3, 2, 4, 30, 0, 0, loc))

	hourStart := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.NotNil(t, store.get(nil, models.PeriodHour, hourStart))
	assert.NotNil(t, store.get(nil, models.PeriodDay, dayStart))
}

func TestTickMidDayWritesNoDayRow(t *testing.T) {
	store := newFakeMetricStore()
	agg := newTestAggregator(&fakeViolationStats{}, store, &fakeStatsReader{})

	agg.tick(time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))

	for _, row := range store.rows {
		assert.Equal(t, models.PeriodHour, row.AggregationPeriod)
	}
	assert.NotNil(t, store.get(nil, models.PeriodHour, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)))
}

func TestAggregateDay(t *testing.T) {
	tenantA := uuid.New()
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	violations := &fakeViolationStats{counts: map[uuid.UUID]int64{tenantA: 30}}
	store := newFakeMetricStore()

	// Two stored hourly rows per scope, summed into the day
	for hour, ws := range map[int]WindowStats{3: {Total: 100, Blocked: 10}, 14: {Total: 300, Blocked: 20}} {
		periodStart := dayStart.Add(time.Duration(hour) * time.Hour)
		id := tenantA
		store.Upsert(context.Background(), &models.RateLimitMetric{
			TenantID:          &id,
			AggregationPeriod: models.PeriodHour,
			PeriodStart:       periodStart,
			PeriodEnd:         periodStart.Add(time.Hour),
			TotalRequests:     ws.Total,
			BlockedRequests:   ws.Blocked,
		})
		store.Upsert(context.Background(), &models.RateLimitMetric{
			AggregationPeriod:   models.PeriodHour,
			PeriodStart:         periodStart,
			PeriodEnd:           periodStart.Add(time.Hour),
			TotalRequests:       ws.Total,
			BlockedRequests:     ws.Blocked,
			AvgProcessingTimeMs: 2,
			MaxProcessingTimeMs: float64(hour),
		})
	}

	agg := newTestAggregator(violations, store, &fakeStatsReader{})

	require.NoError(t, agg.AggregateDay(context.Background(), dayStart))

	day := store.get(&tenantA, models.PeriodDay, dayStart)
	require.NotNil(t, day)
	assert.Equal(t, int64(400), day.TotalRequests)
	assert.Equal(t, int64(30), day.BlockedRequests)

	global := store.get(nil, models.PeriodDay, dayStart)
	require.NotNil(t, global)
	assert.Equal(t, int64(400), global.TotalRequests)
	assert.Equal(t, float64(2), global.AvgProcessingTimeMs)
	assert.Equal(t, float64(14), global.MaxProcessingTimeMs)
}
