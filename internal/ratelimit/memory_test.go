package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiterBurst(t *testing.T) {
	m := NewMemoryLimiter(time.Minute)
	defer m.Close()

	allowed := 0
	for i := 0; i < 20; i++ {
		if m.Allow("tenant-a", 10, 4) {
			allowed++
		}
	}

	// Bucket starts full at burst+1 tokens; the hourly refill rate adds
	// nothing measurable within this loop.
	assert.Equal(t, 5, allowed)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(time.Minute)
	defer m.Close()

	for i := 0; i < 5; i++ {
		m.Allow("tenant-a", 10, 0)
	}

	assert.True(t, m.Allow("tenant-b", 10, 0), "a saturated key must not affect others")
}

func TestMemoryLimiterZeroLimitDenies(t *testing.T) {
	m := NewMemoryLimiter(time.Minute)
	defer m.Close()

	assert.False(t, m.Allow("tenant-a", 0, 10))
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(time.Minute)
	m.Close()
	m.Close()
}
