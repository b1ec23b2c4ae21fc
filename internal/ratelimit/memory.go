package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter is the development fallback when Redis is absent: per-key
// token buckets approximating the hourly limit. It is never used outside
// fallback mode and trades the fixed-window semantics for simplicity. A
// background goroutine evicts keys not seen for two cleanup intervals.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	done    chan struct{}
	closed  bool

	cleanupInterval time.Duration
}

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(cleanupInterval time.Duration) *MemoryLimiter {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	m := &MemoryLimiter{
		entries:         make(map[string]*memoryEntry),
		done:            make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	go m.cleanup()
	return m
}

// Allow consumes one token from the bucket for key, creating the bucket on
// first sight with the given hourly limit and burst.
func (m *MemoryLimiter) Allow(key string, requestsPerHour, burst int) bool {
	if requestsPerHour <= 0 {
		return false
	}

	m.mu.Lock()
	e, exists := m.entries[key]
	if !exists {
		e = &memoryEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(requestsPerHour)/3600.0), burst+1),
		}
		m.entries[key] = e
	}
	e.lastSeen = time.Now()
	m.mu.Unlock()

	return e.limiter.Allow()
}

func (m *MemoryLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := time.Now().Add(-2 * m.cleanupInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
