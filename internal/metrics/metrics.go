package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_runs_started_total",
			Help: "Total number of research runs started",
		},
		[]string{"depth", "provider"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_runs_completed_total",
			Help: "Total number of research runs finished",
		},
		[]string{"status"}, // complete | failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_run_iterations",
			Help:    "Number of research iterations per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	RunFindings = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_run_findings",
			Help:    "Number of findings accumulated per run",
			Buckets: []float64{1, 3, 5, 8, 12, 20, 30},
		},
	)

	// Model gateway metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_model_calls_total",
			Help: "Total number of model generate calls",
		},
		[]string{"provider", "status"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_model_call_duration_seconds",
			Help:    "Model generate call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// Tool metrics
	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_search_requests_total",
			Help: "Total number of web search requests",
		},
		[]string{"engine", "status"},
	)

	PagesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_pages_extracted_total",
			Help: "Total number of page extraction attempts",
		},
		[]string{"status"}, // ok | empty | error
	)

	// Parser metrics
	ReflectionParseFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_reflection_parse_fallbacks_total",
			Help: "Reflection fields that fell back to their defaults",
		},
		[]string{"field"},
	)

	// Breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kestrel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
