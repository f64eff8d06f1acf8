package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_requests_total",
			Help: "Total number of handle requests",
		},
		[]string{"status"},
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_request_duration_seconds",
			Help:    "End-to-end handle duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Pass metrics
	PassesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_passes_started_total",
			Help: "Total number of reasoning passes started",
		},
	)

	PassesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_passes_completed_total",
			Help: "Total number of reasoning passes terminated",
		},
		[]string{"reason"},
	)

	StepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_steps_total",
			Help: "Total number of reasoning steps appended",
		},
	)

	StepsPerPass = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_steps_per_pass",
			Help:    "Number of steps in a terminated pass",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20},
		},
	)

	ContextLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "manifold_context_chars",
			Help:    "Characters of context injected per step",
			Buckets: []float64{0, 200, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)

	// Validation metrics
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_validations_total",
			Help: "Total number of step validations by verdict",
		},
		[]string{"verdict"},
	)

	CounterArgumentsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_counter_arguments_total",
			Help: "Total number of counter-arguments generated",
		},
	)

	// Fusion metrics
	FusionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_fusions_total",
			Help: "Total number of fusions by strategy taken",
		},
		[]string{"strategy"},
	)

	// Model invocation metrics
	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_model_calls_total",
			Help: "Total number of backend model calls",
		},
		[]string{"role", "status"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manifold_model_call_duration_seconds",
			Help:    "Backend model call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	ModelCallRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_model_call_retries_total",
			Help: "Total number of retried backend model calls",
		},
		[]string{"role"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manifold_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "manifold_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manifold_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by outcome",
		},
		[]string{"name", "outcome"},
	)
)
