package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/storage"
)

type MetricRepository struct {
	db *storage.Postgres
}

func NewMetricRepository(db *storage.Postgres) *MetricRepository {
	return &MetricRepository{db: db}
}

// Upsert writes a rollup row keyed by (tenant_id, aggregation_period,
// period_start). A find-then-save transaction is used instead of ON CONFLICT
// because the global row has a NULL tenant_id, which unique indexes treat as
// distinct. Re-running a period overwrites the previous totals.
func (r *MetricRepository) Upsert(ctx context.Context, metric *models.RateLimitMetric) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.RateLimitMetric

		query := tx.WithContext(ctx).
			Where("aggregation_period = ? AND period_start = ?", metric.AggregationPeriod, metric.PeriodStart)
		if metric.TenantID != nil {
			query = query.Where("tenant_id = ?", *metric.TenantID)
		} else {
			query = query.Where("tenant_id IS NULL")
		}

		err := query.First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.WithContext(ctx).Create(metric).Error
		}
		if err != nil {
			return err
		}

		metric.ID = existing.ID
		metric.CreatedAt = existing.CreatedAt
		return tx.WithContext(ctx).Save(metric).Error
	})
}

func (r *MetricRepository) FindByPeriod(ctx context.Context, tenantID *uuid.UUID, period string, periodStart time.Time) (*models.RateLimitMetric, error) {
	var metric models.RateLimitMetric

	query := r.db.DB.WithContext(ctx).
		Where("aggregation_period = ? AND period_start = ?", period, periodStart)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	} else {
		query = query.Where("tenant_id IS NULL")
	}

	err := query.First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &metric, nil
}

// Retrieves all rollups of one period kind across tenants, for building
// daily rows out of hourly ones
func (r *MetricRepository) ListByPeriodRange(ctx context.Context, period string, from, to time.Time) ([]models.RateLimitMetric, error) {
	var metrics []models.RateLimitMetric

	err := r.db.DB.WithContext(ctx).
		Where("aggregation_period = ? AND period_start >= ? AND period_start < ?", period, from, to).
		Order("period_start ASC").
		Find(&metrics).Error

	return metrics, err
}

// Retrieves rollups for a tenant ordered by period start
func (r *MetricRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, period string, from, to time.Time) ([]models.RateLimitMetric, error) {
	var metrics []models.RateLimitMetric

	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND aggregation_period = ? AND period_start BETWEEN ? AND ?", tenantID, period, from, to).
		Order("period_start ASC").
		Find(&metrics).Error

	return metrics, err
}
