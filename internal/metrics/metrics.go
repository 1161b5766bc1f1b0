// Package metrics registers the Prometheus metrics used by modelkit.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Completion-level counters and histograms.
var (
	// CompletionsTotal counts completion calls labelled by mode
	// ("stream", "single") and outcome ("success", "error", "cancelled").
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelkit_completions_total",
			Help: "Total number of completion calls issued.",
		},
		[]string{"model", "mode", "status"},
	)

	// CompletionDuration observes end-to-end completion latency in seconds.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelkit_completion_duration_seconds",
			Help:    "End-to-end completion call duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "mode"},
	)

	// StreamChunks counts individual text deltas emitted to chunk callbacks.
	StreamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelkit_stream_chunks_total",
			Help: "Total streaming text chunks delivered to callers.",
		},
		[]string{"model"},
	)
)

// Discovery counters.
var (
	// DiscoveryAttempts counts catalog fetches labelled by outcome
	// ("success", "error", "cache_hit", "no_key").
	DiscoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelkit_discovery_attempts_total",
			Help: "Total model discovery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RegistryModels gauges the number of models currently registered.
	RegistryModels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelkit_registry_models",
			Help: "Number of models in the active registry.",
		},
	)

	// RegistryUpdates counts wholesale registry replacements.
	RegistryUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modelkit_registry_updates_total",
			Help: "Total wholesale registry replacements.",
		},
	)
)
