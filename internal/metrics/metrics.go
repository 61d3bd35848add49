package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP client metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Total upstream HTTP requests by outcome",
		},
		[]string{"platform", "outcome"}, // outcome: ok, not_found, forbidden, banned, rate_limited, timeout, network
	)

	HTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_http_retries_total",
			Help: "Total upstream HTTP request retries",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Upstream request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// Proxy pool metrics
	ProxyRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_proxy_rotations_total",
			Help: "Total proxy rotations handed out by the pool",
		},
	)

	ProxiesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_proxies_active",
			Help: "Number of proxies that passed the startup probe",
		},
	)

	// Engine metrics
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_cycle_duration_seconds",
			Help:    "Duration of one full harvest cycle",
			Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"platform"},
	)

	SubredditsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_subreddits_processed_total",
			Help: "Subreddits processed by pass type",
		},
		[]string{"pass"}, // pass: ok, no_seller, error
	)

	SubredditsDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_subreddits_discovered_total",
			Help: "New subreddit names discovered via author expansion",
		},
	)

	CreatorsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_creators_processed_total",
			Help: "Instagram creators processed by outcome",
		},
		[]string{"outcome"}, // outcome: ok, error, skipped
	)

	RateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_rate_limit_waits_total",
			Help: "Times a request waited on the global rate gate",
		},
		[]string{"platform"},
	)

	// Batched writer metrics
	WriterRecordsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_writer_records_enqueued_total",
			Help: "Rows enqueued into the batched writer",
		},
		[]string{"table"},
	)

	WriterFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_writer_flushes_total",
			Help: "Writer flushes by table and outcome",
		},
		[]string{"table", "outcome"}, // outcome: ok, error
	)

	WriterFailedQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_writer_failed_queue_depth",
			Help: "Rows currently parked in the per-table failed-records queue",
		},
		[]string{"table"},
	)

	WriterFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_writer_flush_duration_seconds",
			Help:    "Duration of per-table flushes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"table"},
	)

	// Log sink metrics
	LogSinkInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_log_sink_inserts_total",
			Help: "Log rows inserted into system_logs",
		},
		[]string{"mode"}, // mode: batched, sync, overflow
	)

	LogSinkDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_log_sink_insert_failures_total",
			Help: "Log rows that could not be persisted to the store",
		},
	)

	// Supervisor metrics
	SupervisorRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_supervisor_restarts_total",
			Help: "Engine restarts by reason",
		},
		[]string{"reason"}, // reason: hang, crash
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_circuit_breaker_trips_total",
			Help: "Total circuit breaker trips",
		},
		[]string{"component"},
	)

	// Metadata cache metrics
	MetaCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_meta_cache_hits_total",
			Help: "Subreddit metadata cache hits",
		},
	)

	MetaCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_meta_cache_misses_total",
			Help: "Subreddit metadata cache misses (fell back to store preload)",
		},
	)
)
