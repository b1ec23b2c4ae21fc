package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/repository"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/service"
)

// RateLimitAdminHandler exposes the admin mutation interface consumed by the
// platform's admin API: tenant rate limit CRUD plus emergency bypass
// control, with read access to violations and rollups for investigation.
type RateLimitAdminHandler struct {
	admin      *service.PolicyAdminService
	violations *repository.ViolationRepository
	metrics    *repository.MetricRepository
}

func NewRateLimitAdminHandler(admin *service.PolicyAdminService, violations *repository.ViolationRepository, metrics *repository.MetricRepository) *RateLimitAdminHandler {
	return &RateLimitAdminHandler{
		admin:      admin,
		violations: violations,
		metrics:    metrics,
	}
}

func (h *RateLimitAdminHandler) Provision(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	limit, err := h.admin.Provision(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, limit)
}

func (h *RateLimitAdminHandler) Get(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	limit, err := h.admin.Get(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, limit)
}

func (h *RateLimitAdminHandler) List(c *gin.Context) {
	limits, err := h.admin.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, limits)
}

func (h *RateLimitAdminHandler) Update(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req struct {
		Tier              *string        `json:"tier"`
		RequestsPerHour   *int           `json:"requests_per_hour"`
		BurstSize         *int           `json:"burst_size"`
		EndpointOverrides map[string]int `json:"endpoint_overrides"`
		Enabled           *bool          `json:"enabled"`
		ValidFrom         *time.Time     `json:"valid_from"`
		ValidUntil        *time.Time     `json:"valid_until"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.admin.Update(c.Request.Context(), tenantID, service.UpdateInput{
		Tier:              req.Tier,
		RequestsPerHour:   req.RequestsPerHour,
		BurstSize:         req.BurstSize,
		EndpointOverrides: req.EndpointOverrides,
		Enabled:           req.Enabled,
		ValidFrom:         req.ValidFrom,
		ValidUntil:        req.ValidUntil,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rate limit updated successfully"})
}

func (h *RateLimitAdminHandler) SetBypass(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	var req struct {
		Reason string    `json:"reason" binding:"required"`
		Until  time.Time `json:"until" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.admin.SetEmergencyBypass(c.Request.Context(), tenantID, req.Reason, req.Until); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Emergency bypass enabled"})
}

func (h *RateLimitAdminHandler) ClearBypass(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	if err := h.admin.ClearEmergencyBypass(c.Request.Context(), tenantID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Emergency bypass cleared"})
}

func (h *RateLimitAdminHandler) ListViolations(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	from, to := timeRange(c, 24*time.Hour)

	violations, err := h.violations.FindByTenant(c.Request.Context(), tenantID, from, to, 100, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, violations)
}

func (h *RateLimitAdminHandler) ListMetrics(c *gin.Context) {
	tenantID, ok := tenantParam(c)
	if !ok {
		return
	}

	period := c.DefaultQuery("period", "hour")
	from, to := timeRange(c, 7*24*time.Hour)

	metrics, err := h.metrics.ListByTenant(c.Request.Context(), tenantID, period, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, metrics)
}

func tenantParam(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(c.Param("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
		return uuid.Nil, false
	}
	return tenantID, true
}

func timeRange(c *gin.Context, defaultSpan time.Duration) (time.Time, time.Time) {
	to := time.Now()
	from := to.Add(-defaultSpan)

	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	return from, to
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
