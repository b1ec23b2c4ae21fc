package ratelimit

import "github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"

// Severity thresholds on the observed/limit ratio. Deliberately exported
// constants so the classification policy is visible, not buried in code.
const (
	SeverityLowMaxRatio    = 1.5
	SeverityMediumMaxRatio = 3.0
)

// ClassifySeverity grades a violation by how far past its limit the client
// went. A zero limit means any request is an overshoot.
func ClassifySeverity(observed int64, limit int) string {
	if limit <= 0 {
		return models.SeverityHigh
	}

	ratio := float64(observed) / float64(limit)
	switch {
	case ratio <= SeverityLowMaxRatio:
		return models.SeverityLow
	case ratio <= SeverityMediumMaxRatio:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}
