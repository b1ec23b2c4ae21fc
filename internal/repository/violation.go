package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/storage"
)

type ViolationRepository struct {
	db *storage.Postgres
}

func NewViolationRepository(db *storage.Postgres) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// Inserts multiple violations (for batch insertion by the recorder)
func (r *ViolationRepository) CreateBatch(ctx context.Context, violations []*models.RateLimitViolation) error {
	if len(violations) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&violations).Error
}

// Retrieves violations for a tenant within a time range
func (r *ViolationRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, from, to time.Time, limit, offset int) ([]models.RateLimitViolation, error) {
	var violations []models.RateLimitViolation

	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ? AND violation_time BETWEEN ? AND ?", tenantID, from, to).
		Order("violation_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&violations).Error

	return violations, err
}

// scoped builds the base query; a nil tenantID means all tenants (the global
// rollup row).
func (r *ViolationRepository) scoped(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) *gorm.DB {
	query := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitViolation{}).
		Where("violation_time BETWEEN ? AND ?", from, to)

	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	return query
}

func (r *ViolationRepository) CountByTimeRange(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	var count int64
	err := r.scoped(ctx, tenantID, from, to).Count(&count).Error
	return count, err
}

func (r *ViolationRepository) CountDistinctUsers(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	var count int64

	err := r.scoped(ctx, tenantID, from, to).
		Where("user_id IS NOT NULL").
		Distinct("user_id").
		Count(&count).Error

	return count, err
}

func (r *ViolationRepository) CountDistinctIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time) (int64, error) {
	var count int64

	err := r.scoped(ctx, tenantID, from, to).
		Where("client_ip <> ''").
		Distinct("client_ip").
		Count(&count).Error

	return count, err
}

// Returns the endpoints with the most violations in the range
func (r *ViolationRepository) TopEndpoints(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.EndpointCount, error) {
	var results []models.EndpointCount

	err := r.scoped(ctx, tenantID, from, to).
		Select("endpoint, COUNT(*) as count").
		Group("endpoint").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Returns the client IPs with the most violations in the range
func (r *ViolationRepository) TopViolatingIPs(ctx context.Context, tenantID *uuid.UUID, from, to time.Time, limit int) ([]models.IPCount, error) {
	var results []models.IPCount

	err := r.scoped(ctx, tenantID, from, to).
		Select("client_ip as ip, COUNT(*) as count").
		Where("client_ip <> ''").
		Group("client_ip").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Returns the tenants that violated in the range, so the aggregator writes a
// row even for tenants with no rate limit configuration
func (r *ViolationRepository) TenantsWithViolations(ctx context.Context, from, to time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := r.db.DB.WithContext(ctx).
		Model(&models.RateLimitViolation{}).
		Where("violation_time BETWEEN ? AND ?", from, to).
		Distinct().
		Pluck("tenant_id", &ids).Error

	return ids, err
}

// Deletes violations older than the specified time
func (r *ViolationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("violation_time < ?", before).
		Delete(&models.RateLimitViolation{})

	return result.RowsAffected, result.Error
}
