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

type TenantRateLimitRepository struct {
	db *storage.Postgres
}

func NewTenantRateLimitRepository(db *storage.Postgres) *TenantRateLimitRepository {
	return &TenantRateLimitRepository{db: db}
}

// Retrieves the rate limit row for a tenant. Returns (nil, nil) when the
// tenant has no row yet; callers synthesize the default policy.
func (r *TenantRateLimitRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*models.TenantRateLimit, error) {
	var limit models.TenantRateLimit

	err := r.db.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&limit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &limit, nil
}

func (r *TenantRateLimitRepository) Create(ctx context.Context, limit *models.TenantRateLimit) error {
	return r.db.DB.WithContext(ctx).Create(limit).Error
}

// Saves a mutated row whole, running column serializers
func (r *TenantRateLimitRepository) Save(ctx context.Context, limit *models.TenantRateLimit) error {
	return r.db.DB.WithContext(ctx).Save(limit).Error
}

func (r *TenantRateLimitRepository) Update(ctx context.Context, tenantID uuid.UUID, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.TenantRateLimit{}).
		Where("tenant_id = ?", tenantID).
		Updates(updates).Error
}

// Sets a time-boxed emergency bypass for a tenant.
func (r *TenantRateLimitRepository) SetEmergencyBypass(ctx context.Context, tenantID uuid.UUID, reason string, until time.Time) error {
	return r.Update(ctx, tenantID, map[string]interface{}{
		"emergency_bypass": true,
		"bypass_reason":    reason,
		"bypass_until":     until,
	})
}

func (r *TenantRateLimitRepository) ClearEmergencyBypass(ctx context.Context, tenantID uuid.UUID) error {
	return r.Update(ctx, tenantID, map[string]interface{}{
		"emergency_bypass": false,
		"bypass_reason":    "",
		"bypass_until":     nil,
	})
}

func (r *TenantRateLimitRepository) List(ctx context.Context) ([]models.TenantRateLimit, error) {
	var limits []models.TenantRateLimit

	err := r.db.DB.WithContext(ctx).
		Order("created_at ASC").
		Find(&limits).Error

	return limits, err
}

// Returns all tenant IDs that have a rate limit row
func (r *TenantRateLimitRepository) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID

	err := r.db.DB.WithContext(ctx).
		Model(&models.TenantRateLimit{}).
		Pluck("tenant_id", &ids).Error

	return ids, err
}
