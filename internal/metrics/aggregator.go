package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
)

const (
	topEndpointLimit = 10
	topIPLimit       = 5
	aggregateTimeout = 30 * time.Second
)

// ViolationStats is the slice of the violation repository the aggregator
// reads. A nil tenant ID scopes a query globally.
type ViolationStats interface {
	CountByTimeRange(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error)
	CountDistinctUsers(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error)
	CountDistinctIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error)
	TopEndpoints(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.EndpointCount, error)
	TopViolatingIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.IPCount, error)
	TenantsWithViolations(ctx context.Context, from, to time.Time) ([]uuid.UUID, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// MetricStore is the slice of the metric repository the aggregator writes.
type MetricStore interface {
	Upsert(ctx context.Context, metric *models.RateLimitMetric) error
	ListByPeriodRange(ctx context.Context, period string, from, to time.Time) ([]models.RateLimitMetric, error)
}

// Aggregator produces the hourly and daily rollup rows, entirely off the
// request hot path: totals come from the Redis stats hashes the check script
// maintains, everything else from the violations table and the subsystem
// counter snapshot. Rollups are recomputed on re-run, never double-counted.
type Aggregator struct {
	violations ViolationStats
	metrics    MetricStore
	stats      StatsReader
	counters   *observability.Counters
	logger     *zap.Logger

	interval  time.Duration
	retention time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewAggregator(violations ViolationStats, metrics MetricStore, stats StatsReader, counters *observability.Counters, interval, retention time.Duration, logger *zap.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Hour
	}

	return &Aggregator{
		violations: violations,
		metrics:    metrics,
		stats:      stats,
		counters:   counters,
		logger:     logger,
		interval:   interval,
		retention:  retention,
		done:       make(chan struct{}),
	}
}

// Start launches the periodic rollup worker.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.run()
}

// Close stops the worker. Safe to call multiple times.
func (a *Aggregator) Close() {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

func (a *Aggregator) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.tick(time.Now())
		}
	}
}

func (a *Aggregator) tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), aggregateTimeout)
	defer cancel()

	// All period boundaries are UTC. Truncate aligns to the epoch either
	// way; converting first keeps the Hour() day-rollover check consistent
	// with it on hosts running a non-UTC wall clock.
	now = now.UTC()
	hourStart := now.Truncate(time.Hour).Add(-time.Hour)
	snap := a.counters.SnapshotAndReset()

	if err := a.AggregateHour(ctx, hourStart, snap); err != nil {
		a.logger.Error("hourly aggregation failed",
			zap.Time("period_start", hourStart),
			zap.Error(err))
	}

	// Once the last hour of a day has closed, roll the day up too
	if hourStart.Hour() == 23 {
		dayStart := hourStart.Truncate(24 * time.Hour)
		if err := a.AggregateDay(ctx, dayStart); err != nil {
			a.logger.Error("daily aggregation failed",
				zap.Time("period_start", dayStart),
				zap.Error(err))
		}
	}

	if a.retention > 0 {
		deleted, err := a.violations.DeleteOlderThan(ctx, now.Add(-a.retention))
		if err != nil {
			a.logger.Error("violation retention prune failed", zap.Error(err))
		} else if deleted > 0 {
			a.logger.Info("pruned old violations", zap.Int64("deleted", deleted))
		}
	}
}

// AggregateHour writes one hourly rollup row per tenant seen in the period,
// plus the global row carrying the subsystem counter snapshot. Re-running
// the same period with the same snapshot recomputes identical totals.
func (a *Aggregator) AggregateHour(ctx context.Context, periodStart time.Time, snap observability.Snapshot) error {
	periodEnd := periodStart.Add(time.Hour)

	stats, err := a.stats.ReadWindowStats(ctx, periodStart)
	if err != nil {
		// Totals degrade to what the violations table knows
		a.logger.Warn("window stats unavailable, using violation counts only", zap.Error(err))
		stats = map[uuid.UUID]WindowStats{}
	}

	violators, err := a.violations.TenantsWithViolations(ctx, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("listing violating tenants: %w", err)
	}

	tenants := make(map[uuid.UUID]struct{}, len(stats)+len(violators))
	for id := range stats {
		tenants[id] = struct{}{}
	}
	for _, id := range violators {
		tenants[id] = struct{}{}
	}

	var globalTotal, globalBlocked int64
	for tenantID := range tenants {
		metric, err := a.tenantHourMetric(ctx, tenantID, periodStart, periodEnd, stats)
		if err != nil {
			return err
		}

		globalTotal += metric.TotalRequests
		globalBlocked += metric.BlockedRequests

		if err := a.metrics.Upsert(ctx, metric); err != nil {
			return fmt.Errorf("upserting tenant rollup: %w", err)
		}
	}

	global, err := a.globalMetric(ctx, models.PeriodHour, periodStart, periodEnd)
	if err != nil {
		return err
	}
	global.TotalRequests = globalTotal
	global.BlockedRequests = globalBlocked
	global.RedisErrors = snap.RedisErrors
	global.BypassEvents = snap.BypassEvents
	global.AvgProcessingTimeMs = snap.AvgCheckMs
	global.MaxProcessingTimeMs = snap.MaxCheckMs
	global.RateLimitOverheadMs = snap.AvgCheckMs

	if err := a.metrics.Upsert(ctx, global); err != nil {
		return fmt.Errorf("upserting global rollup: %w", err)
	}

	return nil
}

// AggregateDay rolls the stored hourly rows of one day into daily rows.
// Distinct counts and top lists are recomputed from the violations table so
// they deduplicate across hours.
func (a *Aggregator) AggregateDay(ctx context.Context, dayStart time.Time) error {
	dayEnd := dayStart.Add(24 * time.Hour)

	hours, err := a.metrics.ListByPeriodRange(ctx, models.PeriodHour, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("listing hourly rollups: %w", err)
	}

	type daySum struct {
		total, blocked, redisErrors, bypassEvents int64
		weightedAvgMs                             float64
		maxMs                                     float64
	}

	sums := make(map[uuid.UUID]*daySum)
	var global daySum
	for _, h := range hours {
		if h.TenantID == nil {
			global.total += h.TotalRequests
			global.blocked += h.BlockedRequests
			global.redisErrors += h.RedisErrors
			global.bypassEvents += h.BypassEvents
			global.weightedAvgMs += h.AvgProcessingTimeMs * float64(h.TotalRequests)
			if h.MaxProcessingTimeMs > global.maxMs {
				global.maxMs = h.MaxProcessingTimeMs
			}
			continue
		}

		s, ok := sums[*h.TenantID]
		if !ok {
			s = &daySum{}
			sums[*h.TenantID] = s
		}
		s.total += h.TotalRequests
		s.blocked += h.BlockedRequests
	}

	for tenantID, s := range sums {
		id := tenantID
		metric := &models.RateLimitMetric{
			TenantID:          &id,
			AggregationPeriod: models.PeriodDay,
			PeriodStart:       dayStart,
			PeriodEnd:         dayEnd,
			TotalRequests:     s.total,
			BlockedRequests:   s.blocked,
		}
		if err := a.fillViolationStats(ctx, metric, &id, dayStart, dayEnd); err != nil {
			return err
		}
		if err := a.metrics.Upsert(ctx, metric); err != nil {
			return fmt.Errorf("upserting daily tenant rollup: %w", err)
		}
	}

	dayMetric, err := a.globalMetric(ctx, models.PeriodDay, dayStart, dayEnd)
	if err != nil {
		return err
	}
	dayMetric.TotalRequests = global.total
	dayMetric.BlockedRequests = global.blocked
	dayMetric.RedisErrors = global.redisErrors
	dayMetric.BypassEvents = global.bypassEvents
	dayMetric.MaxProcessingTimeMs = global.maxMs
	if global.total > 0 {
		dayMetric.AvgProcessingTimeMs = global.weightedAvgMs / float64(global.total)
		dayMetric.RateLimitOverheadMs = dayMetric.AvgProcessingTimeMs
	}

	if err := a.metrics.Upsert(ctx, dayMetric); err != nil {
		return fmt.Errorf("upserting daily global rollup: %w", err)
	}

	return nil
}

func (a *Aggregator) tenantHourMetric(ctx context.Context, tenantID uuid.UUID, periodStart, periodEnd time.Time, stats map[uuid.UUID]WindowStats) (*models.RateLimitMetric, error) {
	id := tenantID
	metric := &models.RateLimitMetric{
		TenantID:          &id,
		AggregationPeriod: models.PeriodHour,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
	}

	if ws, ok := stats[tenantID]; ok {
		metric.TotalRequests = ws.Total
		metric.BlockedRequests = ws.Blocked
	} else {
		// Stats hash expired or Redis down: violations are the floor
		blocked, err := a.violations.CountByTimeRange(ctx, &id, periodStart, periodEnd)
		if err != nil {
			return nil, fmt.Errorf("counting violations: %w", err)
		}
		metric.TotalRequests = blocked
		metric.BlockedRequests = blocked
	}

	if err := a.fillViolationStats(ctx, metric, &id, periodStart, periodEnd); err != nil {
		return nil, err
	}

	return metric, nil
}

func (a *Aggregator) globalMetric(ctx context.Context, period string, periodStart, periodEnd time.Time) (*models.RateLimitMetric, error) {
	metric := &models.RateLimitMetric{
		AggregationPeriod: period,
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
	}
	if err := a.fillViolationStats(ctx, metric, nil, periodStart, periodEnd); err != nil {
		return nil, err
	}
	return metric, nil
}

func (a *Aggregator) fillViolationStats(ctx context.Context, metric *models.RateLimitMetric, tenantID *uuid.UUID, from, to time.Time) error {
	var err error

	if metric.UniqueUsers, err = a.violations.CountDistinctUsers(ctx, tenantID, from, to); err != nil {
		return fmt.Errorf("counting distinct users: %w", err)
	}
	if metric.UniqueIPs, err = a.violations.CountDistinctIPs(ctx, tenantID, from, to); err != nil {
		return fmt.Errorf("counting distinct IPs: %w", err)
	}
	if metric.TopEndpoints, err = a.violations.TopEndpoints(ctx, tenantID, from, to, topEndpointLimit); err != nil {
		return fmt.Errorf("ranking endpoints: %w", err)
	}
	if metric.TopViolatingIPs, err = a.violations.TopViolatingIPs(ctx, tenantID, from, to, topIPLimit); err != nil {
		return fmt.Errorf("ranking violating IPs: %w", err)
	}

	return nil
}
