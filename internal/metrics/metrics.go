// Package metrics registers the Prometheus collectors for CineSense.
//
// Collectors are package-level promauto vars, served at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation path
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesense_recommend_requests_total",
			Help: "Mood submissions by genre resolution and catalog filter outcome",
		},
		[]string{"genre_outcome", "filter_outcome"},
	)

	RankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cinesense_rank_duration_seconds",
			Help:    "Batch inference + sort duration per request",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Catalog Cache
	CatalogItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinesense_catalog_items",
			Help: "Items in the active catalog cache snapshot",
		},
	)

	CatalogRebuildRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesense_catalog_rebuild_rows_total",
			Help: "Source rows processed by catalog rebuilds",
		},
		[]string{"result"}, // "applied", "skipped"
	)

	// Feedback
	Votes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesense_votes_total",
			Help: "Votes recorded, split by whether a training sample was logged",
		},
		[]string{"feedback_logged"},
	)

	// Sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinesense_sessions_active",
			Help: "Sessions currently held by the session store",
		},
	)

	// Model
	ModelVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cinesense_model_version",
			Help: "Version of the model artifact currently served",
		},
	)

	TrainingRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cinesense_training_rows",
			Help: "Rows used by the last successful retrain",
		},
		[]string{"source"}, // "feedback", "bootstrap"
	)

	// Orchestrator
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinesense_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"stage"},
	)

	PipelineStageResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesense_pipeline_stage_results_total",
			Help: "Pipeline stage outcomes",
		},
		[]string{"stage", "result"}, // "ok", "failed", "skipped"
	)

	// Upstream circuit breaker (TMDB)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cinesense_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesense_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)
)
