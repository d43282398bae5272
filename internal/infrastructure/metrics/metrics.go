package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Runs
	RunsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "umlgen_runs_created_total",
			Help: "Total number of pipeline runs created",
		},
	)
	RunStatusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_run_status_changes_total",
			Help: "Number of run status transitions",
		},
		[]string{"to"},
	)
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "umlgen_runs_active",
			Help: "Current number of pipeline runs in flight",
		},
	)
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "umlgen_run_duration_seconds",
			Help:    "Histogram of pipeline run durations in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s..128s
		},
		[]string{"mode", "result"}, // result: completed|failed
	)

	// Runtime
	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_messages_delivered_total",
			Help: "Messages delivered by the dispatcher per topic and result",
		},
		[]string{"topic", "result"}, // result: ok|error
	)

	// LLM
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_llm_requests_total",
			Help: "Number of model requests by provider/model",
		},
		[]string{"provider", "model"},
	)

	// Tools & rendering
	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_tool_calls_total",
			Help: "Tool executions by tool and result",
		},
		[]string{"tool", "result"}, // result: ok|error|not_found
	)
	Renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_renders_total",
			Help: "PlantUML render attempts by backend and result",
		},
		[]string{"backend", "result"}, // result: ok|error|empty
	)
	RenderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "umlgen_render_duration_seconds",
			Help:    "Duration of PlantUML renders",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// Storage
	StoreOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_store_ops_total",
			Help: "Storage operations performed",
		},
		[]string{"store", "op"}, // op: get|put|delete|list
	)

	// Errors
	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "umlgen_errors_total",
			Help: "Errors encountered in components",
		},
		[]string{"component", "type"},
	)
)

func init() {
	prometheus.MustRegister(
		// Runs
		RunsCreated,
		RunStatusChanges,
		ActiveRuns,
		RunDurationSeconds,
		// Runtime
		MessagesDelivered,
		// LLM
		LLMRequests,
		// Tools
		ToolCalls,
		Renders,
		RenderDurationSeconds,
		// Storage
		StoreOps,
		// Errors
		Errors,
	)
}

// StartMetricsServer serves /metrics on addr until the listener fails.
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

// Runs
func IncRunsCreated() {
	RunsCreated.Inc()
}

func IncRunStatusChange(to string) {
	RunStatusChanges.WithLabelValues(to).Inc()
}

func IncActiveRuns() {
	ActiveRuns.Inc()
}

func DecActiveRuns() {
	ActiveRuns.Dec()
}

func ObserveRunDuration(mode, result string, d time.Duration) {
	RunDurationSeconds.WithLabelValues(mode, result).Observe(d.Seconds())
}

// Runtime
func IncMessageDelivered(topic, result string) {
	MessagesDelivered.WithLabelValues(topic, result).Inc()
}

// LLM
func IncLLMRequest(provider, model string) {
	LLMRequests.WithLabelValues(provider, model).Inc()
}

// Tools
func IncToolCall(tool, result string) {
	ToolCalls.WithLabelValues(tool, result).Inc()
}

func IncRender(backend, result string) {
	Renders.WithLabelValues(backend, result).Inc()
}

func ObserveRenderDuration(backend string, d time.Duration) {
	RenderDurationSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// Storage
func IncStoreOp(store, op string) {
	StoreOps.WithLabelValues(store, op).Inc()
}

// Errors
func IncError(component, typ string) {
	Errors.WithLabelValues(component, typ).Inc()
}
