package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ComparisonsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicearena_comparisons_total",
			Help: "Total comparisons by final status",
		},
		[]string{"status"},
	)

	ComparisonDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicearena_comparison_duration_seconds",
			Help:    "End-to-end comparison duration",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicearena_simulation_runs_total",
			Help: "Total simulation runs by final status",
		},
		[]string{"status"},
	)

	SimulationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicearena_simulations_active",
			Help: "Simulation runs currently in flight",
		},
	)

	TurnLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voicearena_turn_latency_seconds",
			Help:    "Agent response latency per conversation turn",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicearena_llm_tokens_used_total",
			Help: "LLM tokens consumed by model and token type",
		},
		[]string{"model", "type"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicearena_llm_requests_total",
			Help: "LLM completion requests by model and outcome",
		},
		[]string{"model", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicearena_http_requests_total",
			Help: "HTTP requests by method, path and status code",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicearena_http_request_duration_seconds",
			Help:    "HTTP request duration by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RecordTokens(model string, promptTokens, completionTokens int) {
	LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}
