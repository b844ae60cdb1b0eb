package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// PrometheusHandler returns an http.HandlerFunc that writes metrics in
// Prometheus text exposition format (version 0.0.4). It does not require the
// Prometheus client library; metrics are formatted manually.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		uptimeSeconds := time.Since(collector.startTime).Seconds()

		writeMetric(w, "cascade_dispatches_total",
			"Total number of dispatched tasks.",
			"counter", stats.TotalDispatches)

		writeMetric(w, "cascade_dispatches_degraded_total",
			"Total number of dispatches answered by the basic responder.",
			"counter", stats.DegradedDispatches)

		writeMetric(w, "cascade_dispatches_cancelled_total",
			"Total number of dispatches cancelled by the caller.",
			"counter", stats.CancelledDispatches)

		writeMetricFloat(w, "cascade_degraded_percent",
			"Percentage of dispatches that fell back to a degraded answer.",
			"gauge", stats.DegradedPercent)

		writeMetricFloat(w, "cascade_avg_attempts",
			"Average number of provider attempts per dispatch.",
			"gauge", stats.AvgAttempts)

		writeMetric(w, "cascade_prompt_tokens_total",
			"Total number of prompt tokens sent to providers.",
			"counter", stats.PromptTokens)

		writeMetric(w, "cascade_output_tokens_total",
			"Total number of output tokens received from providers.",
			"counter", stats.OutputTokens)

		writeMetric(w, "cascade_cache_hits_total",
			"Total number of cache hits.",
			"counter", stats.CacheHits)

		writeMetric(w, "cascade_cache_misses_total",
			"Total number of cache misses.",
			"counter", stats.CacheMisses)

		writeMetricFloat(w, "cascade_cache_hit_rate",
			"Cache hit rate percentage.",
			"gauge", stats.CacheHitRate)

		writeMetric(w, "cascade_active_dispatches",
			"Number of dispatches currently in flight.",
			"gauge", stats.ActiveDispatches)

		writeMetricFloat(w, "cascade_avg_latency_ms",
			"Average dispatch latency in milliseconds.",
			"gauge", stats.AvgLatencyMs)

		writeMetricFloat(w, "cascade_uptime_seconds",
			"Number of seconds since the service started.",
			"gauge", uptimeSeconds)
	}
}

// writeMetric writes a single integer metric in Prometheus text format.
func writeMetric(w http.ResponseWriter, name, help, metricType string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

// writeMetricFloat writes a single float64 metric in Prometheus text format.
func writeMetricFloat(w http.ResponseWriter, name, help, metricType string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s %g\n", name, value)
}
