package config

import "fmt"

// ExecutionMode controls environment-dependent behavior. It is consumed by the
// Redis connection manager's fallback decision and by logger construction,
// nothing else.
type ExecutionMode string

const (
	ModeDevelopment ExecutionMode = "development"
	ModeStaging     ExecutionMode = "staging"
	ModeProduction  ExecutionMode = "production"
)

// FallbackEligible reports whether a failed Redis initialization may degrade
// to no-op fallback mode instead of being fatal. Only development qualifies.
func (m ExecutionMode) FallbackEligible() bool {
	return m == ModeDevelopment
}

func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(s) {
	case ModeDevelopment, ModeStaging, ModeProduction:
		return ExecutionMode(s), nil
	case "":
		return ModeDevelopment, nil
	default:
		return "", fmt.Errorf("unknown execution mode: %q", s)
	}
}

func (m ExecutionMode) String() string {
	return string(m)
}
