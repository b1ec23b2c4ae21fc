package models

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels for a violation, classified from the observed/limit ratio.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Append-only record of a denied request. Written exclusively by the
// violation recorder, immutable afterwards, pruned by the retention job.
type RateLimitViolation struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	TenantID          uuid.UUID  `gorm:"type:uuid;index;not null" json:"tenant_id"`
	UserID            *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Endpoint          string     `gorm:"index;not null" json:"endpoint"`
	Method            string     `json:"method"`
	RateLimit         int        `gorm:"not null" json:"rate_limit"`
	RequestCount      int        `gorm:"not null" json:"request_count"`
	ClientIP          string     `gorm:"index" json:"client_ip"`
	UserAgent         string     `json:"user_agent"`
	ViolationTime     time.Time  `gorm:"index;not null" json:"violation_time"`
	WindowStart       time.Time  `json:"window_start"`
	WindowEnd         time.Time  `json:"window_end"`
	RetryAfterSeconds int        `json:"retry_after_seconds"`
	Severity          string     `gorm:"default:'low'" json:"severity"`
	AutomatedResponse string     `gorm:"default:'blocked'" json:"automated_response"`
}

func (RateLimitViolation) TableName() string {
	return "rate_limit_violations"
}
