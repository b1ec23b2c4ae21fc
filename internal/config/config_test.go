package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExecutionMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ExecutionMode
		wantErr bool
	}{
		{"development", ModeDevelopment, false},
		{"staging", ModeStaging, false},
		{"production", ModeProduction, false},
		{"", ModeDevelopment, false},
		{"prod", "", true},
	}

	for _, tt := range tests {
		mode, err := ParseExecutionMode(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
		} else {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, mode)
		}
	}
}

func TestFallbackEligible(t *testing.T) {
	assert.True(t, ModeDevelopment.FallbackEligible())
	assert.False(t, ModeStaging.FallbackEligible())
	assert.False(t, ModeProduction.FallbackEligible())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ModeDevelopment, cfg.Mode)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 1000, cfg.RateLimit.DefaultRequestsPerHour)
	assert.Equal(t, 100, cfg.RateLimit.DefaultBurstSize)
	assert.Equal(t, 100*time.Millisecond, cfg.RateLimit.CheckTimeout)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.PolicyCacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("RATE_LIMIT_DEFAULT_REQUESTS_PER_HOUR", "5000")
	t.Setenv("RATE_LIMIT_CHECK_TIMEOUT", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.False(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 5000, cfg.RateLimit.DefaultRequestsPerHour)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.CheckTimeout)
}

func TestLoadRejectsNegativeDefaults(t *testing.T) {
	t.Setenv("RATE_LIMIT_DEFAULT_REQUESTS_PER_HOUR", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("ENVIRONMENT", "qa")

	_, err := Load()
	assert.Error(t, err)
}
