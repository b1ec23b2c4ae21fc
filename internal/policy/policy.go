package policy

import (
	"strings"
	"time"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
)

// BypassKind says why a policy carries no rate limiting. The distinction
// matters downstream: only an emergency bypass is counted as a bypass_event.
type BypassKind int

const (
	BypassNone BypassKind = iota
	BypassDisabled
	BypassWindow
	BypassEmergency
)

func (k BypassKind) String() string {
	switch k {
	case BypassDisabled:
		return "disabled"
	case BypassWindow:
		return "window"
	case BypassEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// Policy is the effective rate-limit policy for one tenant and endpoint.
type Policy struct {
	Limit      int
	Burst      int
	Bypass     bool
	BypassKind BypassKind
	Tier       string
}

// Defaults is the policy synthesized for tenants without a configured row.
type Defaults struct {
	Tier            string
	RequestsPerHour int
	BurstSize       int
}

// build resolves a TenantRateLimit row (possibly nil) into the effective
// policy for an endpoint at the given time.
func build(row *models.TenantRateLimit, endpoint string, defaults Defaults, now time.Time) Policy {
	if row == nil {
		return Policy{
			Limit: defaults.RequestsPerHour,
			Burst: defaults.BurstSize,
			Tier:  defaults.Tier,
		}
	}

	if row.BypassActive(now) {
		return Policy{Bypass: true, BypassKind: BypassEmergency, Tier: row.Tier}
	}
	if !row.Enabled {
		return Policy{Bypass: true, BypassKind: BypassDisabled, Tier: row.Tier}
	}
	if !row.ValidAt(now) {
		return Policy{Bypass: true, BypassKind: BypassWindow, Tier: row.Tier}
	}

	limit := row.RequestsPerHour
	if override, ok := matchOverride(row.EndpointOverrides, endpoint); ok {
		limit = override
	}

	return Policy{
		Limit: limit,
		Burst: row.BurstSize,
		Tier:  row.Tier,
	}
}

// matchOverride finds the override limit for an endpoint. An exact match
// wins; otherwise the longest matching "prefix*" pattern does, which keeps
// resolution deterministic regardless of map order.
func matchOverride(overrides map[string]int, endpoint string) (int, bool) {
	if len(overrides) == 0 {
		return 0, false
	}

	if limit, ok := overrides[endpoint]; ok {
		return limit, true
	}

	bestLen := -1
	bestLimit := 0
	for pattern, limit := range overrides {
		if !strings.HasSuffix(pattern, "*") {
			continue
		}
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(endpoint, prefix) && len(pattern) > bestLen {
			bestLen = len(pattern)
			bestLimit = limit
		}
	}

	return bestLimit, bestLen >= 0
}
