package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal tracks transaction risk analyses per chain
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_analyses_total",
			Help: "Total number of transaction risk analyses",
		},
		[]string{"chain"},
	)

	// CacheHits tracks cache hits per key namespace
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"namespace"},
	)

	// CacheMisses tracks cache misses per key namespace
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"namespace"},
	)

	// SingleFlightShared tracks callers that piggybacked on an in-flight computation
	SingleFlightShared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_singleflight_shared_total",
			Help: "Total number of callers served by a shared in-flight computation",
		},
		[]string{"namespace"},
	)

	// SourceCallsTotal tracks chain node source calls
	SourceCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_source_calls_total",
			Help: "Total number of chain node source calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// SourceErrorsTotal tracks chain node source errors
	SourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_source_errors_total",
			Help: "Total number of chain node source errors",
		},
		[]string{"chain", "provider", "error_type"},
	)

	// SourceLatency tracks chain node source call latency
	SourceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainrisk_source_latency_seconds",
			Help:    "Chain node source call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// RiskScores tracks the distribution of computed risk scores
	RiskScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainrisk_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"chain"},
	)

	// EvidenceAppends tracks reputation evidence appends
	EvidenceAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_evidence_appends_total",
			Help: "Total number of reputation evidence appends",
		},
		[]string{"chain", "kind"},
	)

	// InconsistentEvidence tracks appends that contradicted prior evidence
	InconsistentEvidence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_inconsistent_evidence_total",
			Help: "Total number of evidence appends flagged as inconsistent",
		},
		[]string{"chain"},
	)

	// SimulationsTotal tracks simulations by outcome
	SimulationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_simulations_total",
			Help: "Total number of transaction simulations",
		},
		[]string{"chain", "outcome"},
	)

	// SanctionsChecks tracks sanctions list lookups by result
	SanctionsChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_sanctions_checks_total",
			Help: "Total number of sanctions list lookups",
		},
		[]string{"chain", "result"},
	)

	// TraceQueries tracks cross-chain trace expansions
	TraceQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_trace_queries_total",
			Help: "Total number of cross-chain trace queries",
		},
		[]string{"chain", "truncated"},
	)

	// TraceEdgesRecorded tracks correlation edges appended to the graph
	TraceEdgesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_trace_edges_recorded_total",
			Help: "Total number of correlation edges recorded",
		},
		[]string{"kind"},
	)

	// IngestedAddresses tracks history ingestion runs per chain
	IngestedAddresses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainrisk_ingested_addresses_total",
			Help: "Total number of address histories ingested",
		},
		[]string{"chain"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainrisk_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
