package observability

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters tracks the subsystem's internal failure and bypass counts. Each
// counter is kept twice: a cumulative Prometheus metric for monitoring and an
// atomic value the metrics aggregator snapshots (and resets) per rollup
// period. Request-path increments are lock-free.
type Counters struct {
	redisErrors         atomic.Int64
	bypassEvents        atomic.Int64
	violationsDropped   atomic.Int64
	policyStoreDegraded atomic.Int64

	checkCount      atomic.Int64
	checkTimeMicros atomic.Int64
	maxCheckMicros  atomic.Int64

	promRedisErrors         prometheus.Counter
	promBypassEvents        prometheus.Counter
	promViolationsDropped   prometheus.Counter
	promPolicyStoreDegraded prometheus.Counter
	promCheckDuration       prometheus.Histogram
}

// Snapshot holds per-period counter values taken by SnapshotAndReset.
type Snapshot struct {
	RedisErrors         int64
	BypassEvents        int64
	ViolationsDropped   int64
	PolicyStoreDegraded int64
	CheckCount          int64
	AvgCheckMs          float64
	MaxCheckMs          float64
}

func NewCounters(reg prometheus.Registerer) *Counters {
	factory := promauto.With(reg)

	return &Counters{
		promRedisErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_redis_errors_total",
			Help: "Rate-limit checks that could not reach the rate-limit Redis store.",
		}),
		promBypassEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_bypass_events_total",
			Help: "Requests allowed through an active emergency bypass.",
		}),
		promViolationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_violations_dropped_total",
			Help: "Violation records dropped because the recorder queue was full.",
		}),
		promPolicyStoreDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_policy_store_degraded_total",
			Help: "Policy resolutions served from stale cache or defaults after a store read failure.",
		}),
		promCheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratelimit_check_duration_seconds",
			Help:    "Latency of rate-limit allow/deny decisions.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
}

func (c *Counters) IncRedisError() {
	c.redisErrors.Add(1)
	c.promRedisErrors.Inc()
}

func (c *Counters) IncBypassEvent() {
	c.bypassEvents.Add(1)
	c.promBypassEvents.Inc()
}

func (c *Counters) IncViolationDropped() {
	c.violationsDropped.Add(1)
	c.promViolationsDropped.Inc()
}

func (c *Counters) IncPolicyStoreDegraded() {
	c.policyStoreDegraded.Add(1)
	c.promPolicyStoreDegraded.Inc()
}

func (c *Counters) ObserveCheckDuration(d time.Duration) {
	micros := d.Microseconds()
	c.checkCount.Add(1)
	c.checkTimeMicros.Add(micros)
	for {
		current := c.maxCheckMicros.Load()
		if micros <= current || c.maxCheckMicros.CompareAndSwap(current, micros) {
			break
		}
	}
	c.promCheckDuration.Observe(d.Seconds())
}

// SnapshotAndReset returns the counts accumulated since the previous call and
// zeroes them. The Prometheus metrics are cumulative and unaffected.
func (c *Counters) SnapshotAndReset() Snapshot {
	s := Snapshot{
		RedisErrors:         c.redisErrors.Swap(0),
		BypassEvents:        c.bypassEvents.Swap(0),
		ViolationsDropped:   c.violationsDropped.Swap(0),
		PolicyStoreDegraded: c.policyStoreDegraded.Swap(0),
		CheckCount:          c.checkCount.Swap(0),
	}

	totalMicros := c.checkTimeMicros.Swap(0)
	maxMicros := c.maxCheckMicros.Swap(0)

	if s.CheckCount > 0 {
		s.AvgCheckMs = float64(totalMicros) / float64(s.CheckCount) / 1000
	}
	s.MaxCheckMs = float64(maxMicros) / 1000

	return s
}
