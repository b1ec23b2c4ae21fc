package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/policy"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/repository"
)

// ErrInvalid marks a validation failure the HTTP layer should report as a
// bad request.
var ErrInvalid = errors.New("invalid rate limit configuration")

// ErrNotFound is returned when a tenant has no rate limit row.
var ErrNotFound = errors.New("tenant rate limit not found")

// PolicyAdminService is the mutation interface for tenant rate limit rows.
// Every mutation invalidates the policy store's cache for the tenant so the
// next request sees the change.
type PolicyAdminService struct {
	repo     *repository.TenantRateLimitRepository
	policies *policy.Store
	defaults policy.Defaults
}

func NewPolicyAdminService(repo *repository.TenantRateLimitRepository, policies *policy.Store, defaults policy.Defaults) *PolicyAdminService {
	return &PolicyAdminService{
		repo:     repo,
		policies: policies,
		defaults: defaults,
	}
}

// Provision creates the default rate limit row for a newly created tenant.
// Idempotent: an existing row is returned unchanged.
func (s *PolicyAdminService) Provision(ctx context.Context, tenantID uuid.UUID) (*models.TenantRateLimit, error) {
	existing, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	limit := &models.TenantRateLimit{
		TenantID:        tenantID,
		Tier:            s.defaults.Tier,
		RequestsPerHour: s.defaults.RequestsPerHour,
		BurstSize:       s.defaults.BurstSize,
		Enabled:         true,
	}

	if err := s.repo.Create(ctx, limit); err != nil {
		return nil, fmt.Errorf("failed to provision tenant rate limit: %w", err)
	}

	return limit, nil
}

func (s *PolicyAdminService) Get(ctx context.Context, tenantID uuid.UUID) (*models.TenantRateLimit, error) {
	limit, err := s.repo.FindByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if limit == nil {
		return nil, ErrNotFound
	}
	return limit, nil
}

func (s *PolicyAdminService) List(ctx context.Context) ([]models.TenantRateLimit, error) {
	return s.repo.List(ctx)
}

// UpdateInput carries the mutable fields; nil means "leave unchanged".
type UpdateInput struct {
	Tier              *string
	RequestsPerHour   *int
	BurstSize         *int
	EndpointOverrides map[string]int
	Enabled           *bool
	ValidFrom         *time.Time
	ValidUntil        *time.Time
}

// Update applies the provided fields to a tenant's row. The row is loaded,
// mutated, and saved whole so the JSON-serialized overrides column always
// round-trips through the model's serializer.
func (s *PolicyAdminService) Update(ctx context.Context, tenantID uuid.UUID, input UpdateInput) error {
	row, err := s.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	changed := false
	if input.Tier != nil {
		row.Tier = *input.Tier
		changed = true
	}
	if input.RequestsPerHour != nil {
		if *input.RequestsPerHour < 0 {
			return fmt.Errorf("%w: requests_per_hour must be non-negative", ErrInvalid)
		}
		row.RequestsPerHour = *input.RequestsPerHour
		changed = true
	}
	if input.BurstSize != nil {
		if *input.BurstSize < 0 {
			return fmt.Errorf("%w: burst_size must be non-negative", ErrInvalid)
		}
		row.BurstSize = *input.BurstSize
		changed = true
	}
	if input.EndpointOverrides != nil {
		for pattern, limit := range input.EndpointOverrides {
			if limit < 0 {
				return fmt.Errorf("%w: override for %q must be non-negative", ErrInvalid, pattern)
			}
		}
		row.EndpointOverrides = input.EndpointOverrides
		changed = true
	}
	if input.Enabled != nil {
		row.Enabled = *input.Enabled
		changed = true
	}
	if input.ValidFrom != nil {
		row.ValidFrom = input.ValidFrom
		changed = true
	}
	if input.ValidUntil != nil {
		row.ValidUntil = input.ValidUntil
		changed = true
	}

	if !changed {
		return fmt.Errorf("%w: no fields to update", ErrInvalid)
	}

	if err := s.repo.Save(ctx, row); err != nil {
		return err
	}

	s.policies.Invalidate(tenantID)
	return nil
}

// SetEmergencyBypass enables a time-boxed bypass. bypass_until must be in
// the future; enforcement treats an expired bypass as inactive regardless.
func (s *PolicyAdminService) SetEmergencyBypass(ctx context.Context, tenantID uuid.UUID, reason string, until time.Time) error {
	if !until.After(time.Now()) {
		return fmt.Errorf("%w: bypass_until must be in the future", ErrInvalid)
	}
	if reason == "" {
		return fmt.Errorf("%w: bypass_reason is required", ErrInvalid)
	}

	if _, err := s.Get(ctx, tenantID); err != nil {
		return err
	}

	if err := s.repo.SetEmergencyBypass(ctx, tenantID, reason, until); err != nil {
		return err
	}

	s.policies.Invalidate(tenantID)
	return nil
}

func (s *PolicyAdminService) ClearEmergencyBypass(ctx context.Context, tenantID uuid.UUID) error {
	if _, err := s.Get(ctx, tenantID); err != nil {
		return err
	}

	if err := s.repo.ClearEmergencyBypass(ctx, tenantID); err != nil {
		return err
	}

	s.policies.Invalidate(tenantID)
	return nil
}
