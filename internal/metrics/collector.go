// Package metrics tracks live dispatch counters with lock-free atomics.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector tracks live metrics using atomic counters for lock-free,
// concurrent-safe updates. It provides an in-memory real-time view of
// dispatch throughput, token usage, fallback behaviour, and cache
// performance.
type Collector struct {
	totalDispatches     int64
	degradedDispatches  int64
	cancelledDispatches int64
	totalAttempts       int64

	promptTokens int64
	outputTokens int64

	cacheHits   int64
	cacheMisses int64

	activeDispatches int64
	totalLatencyMs   int64

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters,
// suitable for JSON serialisation on the stats endpoint.
type Stats struct {
	Uptime              string  `json:"uptime"`
	TotalDispatches     int64   `json:"total_dispatches"`
	DegradedDispatches  int64   `json:"degraded_dispatches"`
	CancelledDispatches int64   `json:"cancelled_dispatches"`
	DegradedPercent     float64 `json:"degraded_percent"`
	AvgAttempts         float64 `json:"avg_attempts"`
	PromptTokens        int64   `json:"prompt_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	CacheHits           int64   `json:"cache_hits"`
	CacheMisses         int64   `json:"cache_misses"`
	ActiveDispatches    int64   `json:"active_dispatches"`
	AvgLatencyMs        float64 `json:"avg_latency_ms"`
}

// NewCollector creates a new Collector with all counters initialised to
// zero and the start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Record atomically updates the counters for one completed dispatch.
// attempts is the number of providers tried; latency is wall time for
// the whole dispatch including fallback attempts.
func (c *Collector) Record(degraded, cancelled bool, attempts int, latency time.Duration) {
	atomic.AddInt64(&c.totalDispatches, 1)
	atomic.AddInt64(&c.totalAttempts, int64(attempts))
	atomic.AddInt64(&c.totalLatencyMs, latency.Milliseconds())
	if degraded {
		atomic.AddInt64(&c.degradedDispatches, 1)
	}
	if cancelled {
		atomic.AddInt64(&c.cancelledDispatches, 1)
	}
}

// RecordTokens adds prompt and output token counts for one dispatch.
func (c *Collector) RecordTokens(prompt, output int) {
	atomic.AddInt64(&c.promptTokens, int64(prompt))
	atomic.AddInt64(&c.outputTokens, int64(output))
}

// RecordCacheHit increments the cache hit counter.
func (c *Collector) RecordCacheHit() {
	atomic.AddInt64(&c.cacheHits, 1)
}

// RecordCacheMiss increments the cache miss counter.
func (c *Collector) RecordCacheMiss() {
	atomic.AddInt64(&c.cacheMisses, 1)
}

// IncrementActive increments the active dispatch counter. Call this when
// a dispatch starts.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeDispatches, 1)
}

// DecrementActive decrements the active dispatch counter. Call this when
// a dispatch finishes, regardless of outcome.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeDispatches, -1)
}

// Stats returns a point-in-time snapshot of all metrics.
func (c *Collector) Stats() *Stats {
	total := atomic.LoadInt64(&c.totalDispatches)
	degraded := atomic.LoadInt64(&c.degradedDispatches)
	cancelled := atomic.LoadInt64(&c.cancelledDispatches)
	attempts := atomic.LoadInt64(&c.totalAttempts)
	latencyMs := atomic.LoadInt64(&c.totalLatencyMs)
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)

	var degradedPercent, avgAttempts, avgLatency float64
	if total > 0 {
		degradedPercent = float64(degraded) / float64(total) * 100
		avgAttempts = float64(attempts) / float64(total)
		avgLatency = float64(latencyMs) / float64(total)
	}

	var hitRate float64
	if ops := hits + misses; ops > 0 {
		hitRate = float64(hits) / float64(ops) * 100
	}

	return &Stats{
		Uptime:              formatDuration(time.Since(c.startTime)),
		TotalDispatches:     total,
		DegradedDispatches:  degraded,
		CancelledDispatches: cancelled,
		DegradedPercent:     degradedPercent,
		AvgAttempts:         avgAttempts,
		PromptTokens:        atomic.LoadInt64(&c.promptTokens),
		OutputTokens:        atomic.LoadInt64(&c.outputTokens),
		CacheHitRate:        hitRate,
		CacheHits:           hits,
		CacheMisses:         misses,
		ActiveDispatches:    atomic.LoadInt64(&c.activeDispatches),
		AvgLatencyMs:        avgLatency,
	}
}

// formatDuration produces a human-readable duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return formatWithUnits(days, "d", hours, "h", minutes, "m")
	}
	if hours > 0 {
		return formatWithUnits(hours, "h", minutes, "m", 0, "")
	}
	return formatWithUnits(minutes, "m", 0, "", 0, "")
}

// formatWithUnits builds a compact duration string from up to three components.
func formatWithUnits(v1 int, u1 string, v2 int, u2 string, v3 int, u3 string) string {
	s := ""
	if v1 > 0 {
		s += intStr(v1) + u1
	}
	if v2 > 0 {
		if s != "" {
			s += " "
		}
		s += intStr(v2) + u2
	}
	if v3 > 0 && u3 != "" {
		if s != "" {
			s += " "
		}
		s += intStr(v3) + u3
	}
	if s == "" {
		return "0m"
	}
	return s
}

// intStr converts an int to its string representation without importing strconv.
func intStr(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + intStr(-n)
	}
	digits := make([]byte, 0, 10)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	// reverse
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
