package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregation period identifiers.
const (
	PeriodHour = "hour"
	PeriodDay  = "day"
)

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// Periodic rollup row, written only by the metrics aggregator. A nil TenantID
// is the global row. Upserts are keyed by (tenant_id, aggregation_period,
// period_start) so re-running a period recomputes instead of double-counting.
type RateLimitMetric struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	TenantID            *uuid.UUID      `gorm:"type:uuid;uniqueIndex:idx_metric_period" json:"tenant_id,omitempty"`
	AggregationPeriod   string          `gorm:"uniqueIndex:idx_metric_period;not null" json:"aggregation_period"`
	PeriodStart         time.Time       `gorm:"uniqueIndex:idx_metric_period;not null" json:"period_start"`
	PeriodEnd           time.Time       `gorm:"not null" json:"period_end"`
	TotalRequests       int64           `json:"total_requests"`
	BlockedRequests     int64           `json:"blocked_requests"`
	UniqueUsers         int64           `json:"unique_users"`
	UniqueIPs           int64           `json:"unique_ips"`
	AvgProcessingTimeMs float64         `json:"avg_processing_time_ms"`
	MaxProcessingTimeMs float64         `json:"max_processing_time_ms"`
	RateLimitOverheadMs float64         `json:"rate_limit_overhead_ms"`
	TopEndpoints        []EndpointCount `gorm:"serializer:json" json:"top_endpoints,omitempty"`
	TopViolatingIPs     []IPCount       `gorm:"serializer:json" json:"top_violating_ips,omitempty"`
	RedisErrors         int64           `json:"redis_errors"`
	BypassEvents        int64           `json:"bypass_events"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (RateLimitMetric) TableName() string {
	return "rate_limit_metrics"
}
