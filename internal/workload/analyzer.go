// Package workload classifies dispatch requests into workload profiles.
// Classification is a pure function over the request: no I/O, no shared state,
// safe to call many times per second from concurrent route calls.
//
// The token estimate and all keyword tables are heuristics, not guarantees.
// They bias routing decisions; exact thresholds are not load-bearing.
package workload

import (
	"math"
	"strings"

	"github.com/execroute/execroute/internal/domain"
)

// Size class thresholds, in estimated tokens.
const (
	tinyMax   = 500
	smallMax  = 2000
	mediumMax = 8000
	largeMax  = 32000
)

// complexPromptLength is the prompt length (in characters) above which a
// prompt classifies as complex regardless of keywords.
const complexPromptLength = 2000

// simplePromptLength is the length below which a prompt with no complexity
// keywords classifies as simple.
const simplePromptLength = 200

// Heuristics holds the keyword tables driving complexity, capability, and
// priority detection. It is injectable so tables can be tuned or swapped
// without touching router logic.
type Heuristics struct {
	ComplexityKeywords      []string
	StreamingKeywords       []string
	VisionKeywords          []string
	FunctionCallingKeywords []string
	HighPriorityKeywords    []string
	LowPriorityKeywords     []string
}

// DefaultHeuristics returns the built-in keyword tables.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		ComplexityKeywords: []string{
			"architecture", "optimize", "optimise", "proof", "refactor",
			"concurrency", "distributed", "algorithm", "trade-off", "tradeoff",
		},
		StreamingKeywords: []string{"stream", "streaming", "real-time", "realtime"},
		VisionKeywords:    []string{"image", "diagram", "screenshot", "photo", "picture"},
		FunctionCallingKeywords: []string{
			"call the api", "invoke function", "function call", "tool call", "use the tool",
		},
		HighPriorityKeywords: []string{"urgent", "asap", "immediately", "critical"},
		LowPriorityKeywords:  []string{"whenever", "no rush", "low priority", "background"},
	}
}

// Analyzer derives a WorkloadProfile from a DispatchRequest.
type Analyzer struct {
	heuristics Heuristics
}

// NewAnalyzer creates an analyzer with the given keyword tables.
func NewAnalyzer(h Heuristics) *Analyzer {
	return &Analyzer{heuristics: h}
}

// NewDefaultAnalyzer creates an analyzer with DefaultHeuristics.
func NewDefaultAnalyzer() *Analyzer {
	return NewAnalyzer(DefaultHeuristics())
}

// Analyze validates the request and computes its profile. It returns an
// *domain.InvalidRequestError (matching domain.ErrInvalidRequest) before any
// provider is touched if the prompt or max_output_tokens fail validation.
func (a *Analyzer) Analyze(req domain.DispatchRequest) (domain.WorkloadProfile, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.WorkloadProfile{}, &domain.InvalidRequestError{
			Field:  "prompt",
			Reason: "cannot be empty",
		}
	}

	maxOut := 0
	if req.MaxOutputTokens != nil {
		v := *req.MaxOutputTokens
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			return domain.WorkloadProfile{}, &domain.InvalidRequestError{
				Field:  "max_output_tokens",
				Reason: "must be a finite number",
			}
		case v < 0:
			return domain.WorkloadProfile{}, &domain.InvalidRequestError{
				Field:  "max_output_tokens",
				Reason: "must not be negative",
			}
		case v != math.Trunc(v):
			return domain.WorkloadProfile{}, &domain.InvalidRequestError{
				Field:  "max_output_tokens",
				Reason: "must be an integer",
			}
		}
		maxOut = int(v)
	}

	// Roughly 4 characters per token. Deliberately crude; good enough to
	// bucket requests by size, not an exact count.
	estimated := (len(req.Prompt)+3)/4 + maxOut

	lower := strings.ToLower(req.Prompt)
	h := a.heuristics

	return domain.WorkloadProfile{
		EstimatedTokens:         estimated,
		SizeClass:               classifySize(estimated),
		Complexity:              classifyComplexity(lower, h.ComplexityKeywords),
		RequiresStreaming:       containsAny(lower, h.StreamingKeywords),
		RequiresVision:          containsAny(lower, h.VisionKeywords),
		RequiresFunctionCalling: containsAny(lower, h.FunctionCallingKeywords),
		Priority:                classifyPriority(lower, h),
	}, nil
}

func classifySize(tokens int) domain.SizeClass {
	switch {
	case tokens < tinyMax:
		return domain.SizeTiny
	case tokens < smallMax:
		return domain.SizeSmall
	case tokens < mediumMax:
		return domain.SizeMedium
	case tokens < largeMax:
		return domain.SizeLarge
	default:
		return domain.SizeHuge
	}
}

func classifyComplexity(lower string, keywords []string) domain.Complexity {
	if len(lower) > complexPromptLength || containsAny(lower, keywords) {
		return domain.ComplexityComplex
	}
	if len(lower) < simplePromptLength {
		return domain.ComplexitySimple
	}
	return domain.ComplexityModerate
}

func classifyPriority(lower string, h Heuristics) domain.Priority {
	if containsAny(lower, h.HighPriorityKeywords) {
		return domain.PriorityHigh
	}
	if containsAny(lower, h.LowPriorityKeywords) {
		return domain.PriorityLow
	}
	return domain.PriorityNormal
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
