package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Per-tenant rate limit configuration. One row per tenant, created with
// defaults when the tenant is provisioned and mutated only through the admin
// API. Cascade-deleted with the tenant, never hard-deleted on its own.
type TenantRateLimit struct {
	ID                uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	TenantID          uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"tenant_id"`
	Tier              string         `gorm:"default:'standard';not null" json:"tier"`
	RequestsPerHour   int            `gorm:"not null" json:"requests_per_hour"`
	BurstSize         int            `gorm:"not null" json:"burst_size"`
	EndpointOverrides map[string]int `gorm:"serializer:json" json:"endpoint_overrides,omitempty"`
	Enabled           bool           `gorm:"default:true" json:"enabled"`
	ValidFrom         *time.Time     `json:"valid_from,omitempty"`
	ValidUntil        *time.Time     `json:"valid_until,omitempty"`
	EmergencyBypass   bool           `gorm:"default:false" json:"emergency_bypass"`
	BypassReason      string         `json:"bypass_reason,omitempty"`
	BypassUntil       *time.Time     `json:"bypass_until,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (t *TenantRateLimit) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (TenantRateLimit) TableName() string {
	return "tenant_rate_limits"
}

// BypassActive reports whether the emergency bypass is in effect at the given
// time. An expired bypass_until means the bypass is inactive even while the
// flag is still set.
func (t *TenantRateLimit) BypassActive(now time.Time) bool {
	return t.EmergencyBypass && t.BypassUntil != nil && t.BypassUntil.After(now)
}

// ValidAt reports whether the policy's validity window includes the given time.
func (t *TenantRateLimit) ValidAt(now time.Time) bool {
	if t.ValidFrom != nil && now.Before(*t.ValidFrom) {
		return false
	}
	if t.ValidUntil != nil && now.After(*t.ValidUntil) {
		return false
	}
	return true
}
