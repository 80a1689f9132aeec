package domain

import "time"

// DispatchRequest is the input to the routing pipeline. Capability flags are
// inferred from the prompt by the workload analyzer, never supplied by callers.
type DispatchRequest struct {
	Prompt string `json:"prompt"`

	// MaxOutputTokens is decoded as a raw number so that fractional and
	// non-finite values can be rejected with a descriptive error instead of
	// being silently truncated at the JSON layer.
	MaxOutputTokens *float64 `json:"max_output_tokens,omitempty"`

	// Provider forces a specific provider. If it is set and the provider is
	// ineligible the request fails fast instead of falling back.
	Provider string `json:"provider,omitempty"`
}

// DispatchResponse is returned to the caller after a successful attempt.
type DispatchResponse struct {
	Text         string  `json:"text"`
	Provider     string  `json:"provider"`
	LatencyMs    int64   `json:"latency_ms"`
	CostUSD      float64 `json:"cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	RequestID    string  `json:"request_id,omitempty"`
}

// SizeClass buckets a request by estimated token volume.
type SizeClass int

const (
	SizeTiny SizeClass = iota
	SizeSmall
	SizeMedium
	SizeLarge
	SizeHuge
)

func (s SizeClass) String() string {
	switch s {
	case SizeTiny:
		return "tiny"
	case SizeSmall:
		return "small"
	case SizeMedium:
		return "medium"
	case SizeLarge:
		return "large"
	case SizeHuge:
		return "huge"
	default:
		return "unknown"
	}
}

// Complexity is a keyword/length heuristic classification of a prompt.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityModerate
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Priority orders requests for routing decisions.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// WorkloadProfile is the derived classification of a request. It is computed
// once per request, never mutated, and discarded when the request completes.
type WorkloadProfile struct {
	EstimatedTokens         int
	SizeClass               SizeClass
	Complexity              Complexity
	RequiresStreaming       bool
	RequiresVision          bool
	RequiresFunctionCalling bool
	Priority                Priority
}

// QuotaLimits is a free daily allowance. Zero values mean "no limit on that
// dimension"; a nil *QuotaLimits on ProviderSpec means no free tier at all.
type QuotaLimits struct {
	RequestsPerDay int64 `yaml:"requests_per_day" json:"requests_per_day"`
	TokensPerDay   int64 `yaml:"tokens_per_day" json:"tokens_per_day"`
}

// CostBudget is a monetary ceiling over a rolling window.
type CostBudget struct {
	AmountUSD float64       `json:"amount_usd"`
	Window    time.Duration `json:"window"`
}

// BreakerConfig holds the per-provider circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// Pricing is the per-1K-token price used to compute attempt cost. Providers
// without pricing produce zero-cost attempts.
type Pricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// ProviderSpec is the static configuration of one provider. The engine assumes
// it was validated at load time; only runtime usage values are re-validated.
type ProviderSpec struct {
	Name     string
	Priority int // lower is tried first
	Timeout  time.Duration

	FreeQuota  *QuotaLimits
	CostBudget *CostBudget
	Breaker    BreakerConfig
	Pricing    *Pricing
}

// ProviderHealth is a point-in-time snapshot of a provider's dynamic state.
// Reads are non-blocking and may be slightly stale; the router tolerates that.
type ProviderHealth struct {
	Name                string        `json:"name"`
	Available           bool          `json:"available"`
	Enabled             bool          `json:"enabled"`
	CircuitState        string        `json:"circuit_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastProbeAt         time.Time     `json:"last_probe_at"`
	AvgLatency          time.Duration `json:"avg_latency"`
}

// AttemptOutcome tags the result of one provider attempt or skip.
type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeFailure     AttemptOutcome = "failure"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomeCircuitOpen AttemptOutcome = "circuit_open"
	OutcomeOverQuota   AttemptOutcome = "over_quota"
	OutcomeOverBudget  AttemptOutcome = "over_budget"
	OutcomeDisabled    AttemptOutcome = "disabled"
)

// Attempt records what happened with one candidate during a single route call.
type Attempt struct {
	Provider string         `json:"provider"`
	Outcome  AttemptOutcome `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}
