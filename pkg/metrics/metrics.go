package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querysynth_build_info",
			Help: "Build information of the querysynth service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querysynth_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querysynth_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool_name"},
	)

	LoopRoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_loop_rounds_total",
			Help: "Total number of producer/reviewer rounds",
		},
		[]string{"loop", "status"},
	)

	LoopOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_loop_outcomes_total",
			Help: "Total number of refinement loop outcomes",
		},
		[]string{"loop", "outcome"},
	)

	RetrievalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_retrieval_calls_total",
			Help: "Total number of retrieval calls",
		},
		[]string{"status"},
	)

	RetrievalDocuments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querysynth_retrieval_documents",
			Help:    "Number of documents returned after dedup",
			Buckets: prometheus.LinearBuckets(0, 2, 11),
		},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_llm_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"status"},
	)

	LLMCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querysynth_llm_call_duration_seconds",
			Help:    "Duration of LLM completion calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	EmbeddingRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querysynth_embedding_request_duration_seconds",
			Help:    "Duration of embedding service requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	DatabaseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querysynth_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	LedgerAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_ledger_appends_total",
			Help: "Total number of artifact ledger appends",
		},
		[]string{"type", "status"},
	)

	ArtifactBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querysynth_artifact_bytes_total",
			Help: "Total bytes written to the artifact sink",
		},
		[]string{"mime_type"},
	)
)
