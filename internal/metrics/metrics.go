package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_requests_total",
			Help: "Total number of dispatch requests by final status",
		},
		[]string{"status"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_attempts_total",
			Help: "Total number of provider attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execroute_attempt_duration_seconds",
			Help:    "Provider attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_tokens_total",
			Help: "Total number of tokens dispatched",
		},
		[]string{"provider", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_cost_usd_total",
			Help: "Total attempt cost in USD",
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execroute_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_quota_rejections_total",
			Help: "Candidates excluded for exhausted free quota",
		},
		[]string{"provider"},
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execroute_budget_rejections_total",
			Help: "Candidates excluded for exceeded cost budget",
		},
		[]string{"provider"},
	)

	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execroute_provider_available",
			Help: "Provider availability from the last health probe (0 or 1)",
		},
		[]string{"provider"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execroute_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"provider"},
	)
)

func RecordRequest(status string) {
	RequestsTotal.WithLabelValues(status).Inc()
}

func RecordAttempt(provider, outcome string, durationSec float64) {
	AttemptsTotal.WithLabelValues(provider, outcome).Inc()
	AttemptDuration.WithLabelValues(provider).Observe(durationSec)
}

func RecordTokens(provider string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

func RecordCost(provider string, costUSD float64) {
	CostTotal.WithLabelValues(provider).Add(costUSD)
}

func RecordQuotaRejection(provider string) {
	QuotaRejections.WithLabelValues(provider).Inc()
}

func RecordBudgetRejection(provider string) {
	BudgetRejections.WithLabelValues(provider).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func SetProviderAvailable(provider string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	ProviderAvailable.WithLabelValues(provider).Set(v)
}

func RecordProbe(provider string, durationSec float64) {
	ProbeDuration.WithLabelValues(provider).Observe(durationSec)
}
