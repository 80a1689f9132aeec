// Package router implements the dispatch decision algorithm: classify the
// request, build the eligible candidate list, try candidates strictly in
// priority order, and record outcomes back into the quota tracker, cost
// ledger, and circuit breakers.
//
// A single Route call tries each eligible provider at most once, one at a
// time. There is no parallel fan-out: at most one provider is ever charged
// per request. Retry-with-backoff, if desired, belongs to the caller.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/execroute/execroute/internal/cost"
	"github.com/execroute/execroute/internal/domain"
	"github.com/execroute/execroute/internal/events"
	"github.com/execroute/execroute/internal/executor"
	"github.com/execroute/execroute/internal/metrics"
	"github.com/execroute/execroute/internal/quota"
	"github.com/execroute/execroute/internal/registry"
	"github.com/execroute/execroute/internal/telemetry"
	"github.com/execroute/execroute/internal/workload"
)

// defaultAttemptTimeout bounds providers with no configured timeout.
const defaultAttemptTimeout = 60 * time.Second

// Config wires the router's collaborators.
type Config struct {
	Registry   *registry.Registry
	Analyzer   *workload.Analyzer
	Quota      *quota.Tracker
	Ledger     *cost.Ledger
	Calculator *cost.Calculator
	Emitter    events.Emitter
	Logger     *slog.Logger
}

// Router selects and invokes providers for dispatch requests. It is safe for
// concurrent use; per-provider state lives in the registry and is serialized
// there.
type Router struct {
	registry   *registry.Registry
	analyzer   *workload.Analyzer
	quota      *quota.Tracker
	ledger     *cost.Ledger
	calculator *cost.Calculator
	emitter    events.Emitter
	logger     *slog.Logger
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Analyzer == nil {
		cfg.Analyzer = workload.NewDefaultAnalyzer()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Calculator == nil {
		cfg.Calculator = cost.NewCalculator(nil)
	}
	return &Router{
		registry:   cfg.Registry,
		analyzer:   cfg.Analyzer,
		quota:      cfg.Quota,
		ledger:     cfg.Ledger,
		calculator: cfg.Calculator,
		emitter:    cfg.Emitter,
		logger:     cfg.Logger,
	}
}

// Route validates and classifies the request, then tries eligible providers
// in priority order until one succeeds. Validation failures and explicit
// provider rejections return before any provider is contacted; if every
// candidate fails the error matches domain.ErrRoutingExhausted and carries
// the full attempt trail.
func (r *Router) Route(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "router.route")
	defer span.End()

	profile, err := r.analyzer.Analyze(req)
	if err != nil {
		metrics.RecordRequest("invalid")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}
	telemetry.AddProfileAttributes(span, profile)

	r.emitter.Emit(events.New(events.TypeRequestClassified, "", map[string]any{
		"estimated_tokens": profile.EstimatedTokens,
		"size_class":       profile.SizeClass.String(),
		"complexity":       profile.Complexity.String(),
		"priority":         profile.Priority.String(),
	}))

	maxOut := 0
	if req.MaxOutputTokens != nil {
		maxOut = int(*req.MaxOutputTokens)
	}

	candidates, trail, err := r.buildCandidates(ctx, req, profile)
	if err != nil {
		metrics.RecordRequest("rejected")
		telemetry.AddErrorAttribute(span, err)
		return nil, err
	}

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Spec.Name)
	}
	r.emitter.Emit(events.New(events.TypeCandidatesComputed, "", map[string]any{
		"candidates": names,
		"excluded":   len(trail),
	}))

	for _, e := range candidates {
		if cerr := ctx.Err(); cerr != nil {
			metrics.RecordRequest("cancelled")
			return nil, fmt.Errorf("dispatch cancelled: %w", cerr)
		}

		// The candidate filter used a non-consuming check; the breaker may
		// have opened since. Skipping here is the expected handling of a
		// stale snapshot, not an error.
		if berr := e.Breaker.Allow(); berr != nil {
			trail = append(trail, domain.Attempt{
				Provider: e.Spec.Name,
				Outcome:  domain.OutcomeCircuitOpen,
				Reason:   berr.Error(),
			})
			continue
		}

		result, duration, aerr := r.attempt(ctx, e, req.Prompt, maxOut)
		if aerr != nil {
			if cerr := ctx.Err(); cerr != nil {
				// Caller cancellation, not a provider fault: stop without
				// penalizing the breaker. The attempt resolved neither way,
				// so an admitted half-open trial slot is handed back rather
				// than left consumed. Prior attempts stay recorded.
				e.Breaker.ReleaseTrial()
				metrics.RecordRequest("cancelled")
				return nil, fmt.Errorf("dispatch cancelled: %w", cerr)
			}

			e.Breaker.RecordFailure()

			outcome := domain.OutcomeFailure
			if errors.Is(aerr, context.DeadlineExceeded) {
				outcome = domain.OutcomeTimeout
			}
			trail = append(trail, domain.Attempt{
				Provider: e.Spec.Name,
				Outcome:  outcome,
				Reason:   aerr.Error(),
				Duration: duration,
			})

			metrics.RecordAttempt(e.Spec.Name, string(outcome), duration.Seconds())
			r.emitter.Emit(events.New(events.TypeAttemptFinished, e.Spec.Name, map[string]any{
				"outcome":     string(outcome),
				"duration_ms": duration.Milliseconds(),
				"error":       aerr.Error(),
			}))
			r.logger.Warn("provider attempt failed, trying next candidate",
				"provider", e.Spec.Name,
				"outcome", string(outcome),
				"error", aerr,
			)
			continue
		}

		return r.finishSuccess(ctx, span, e, result, duration), nil
	}

	metrics.RecordRequest("exhausted")
	err = &domain.RoutingExhaustedError{Attempts: trail}
	telemetry.AddErrorAttribute(span, err)
	return nil, err
}

// buildCandidates filters and orders providers. The returned trail holds the
// exclusion record for every ineligible provider so exhaustion errors can
// distinguish unhealthy from over-quota from over-budget.
func (r *Router) buildCandidates(ctx context.Context, req domain.DispatchRequest, profile domain.WorkloadProfile) ([]*registry.Entry, []domain.Attempt, error) {
	if req.Provider != "" {
		e, ok := r.registry.Get(req.Provider)
		if !ok {
			return nil, nil, &domain.ExplicitProviderError{
				Provider: req.Provider,
				Reason:   "unknown provider",
			}
		}
		if outcome, reason := r.ineligible(ctx, e, profile); outcome != "" {
			return nil, nil, &domain.ExplicitProviderError{
				Provider: req.Provider,
				Reason:   reason,
			}
		}
		return []*registry.Entry{e}, nil, nil
	}

	var candidates []*registry.Entry
	var trail []domain.Attempt

	for _, e := range r.registry.List() {
		outcome, reason := r.ineligible(ctx, e, profile)
		if outcome == "" {
			candidates = append(candidates, e)
			continue
		}

		trail = append(trail, domain.Attempt{
			Provider: e.Spec.Name,
			Outcome:  outcome,
			Reason:   reason,
		})

		switch outcome {
		case domain.OutcomeOverQuota:
			metrics.RecordQuotaRejection(e.Spec.Name)
			r.emitter.Emit(events.New(events.TypeQuotaRejected, e.Spec.Name, nil))
		case domain.OutcomeOverBudget:
			metrics.RecordBudgetRejection(e.Spec.Name)
			r.emitter.Emit(events.New(events.TypeCostRejected, e.Spec.Name, nil))
		}
	}

	sortCandidates(candidates)
	return candidates, trail, nil
}

// ineligible returns the exclusion outcome and reason, or ("", "") for an
// eligible provider. Checks are non-consuming: the half-open trial slot is
// only taken at attempt time.
func (r *Router) ineligible(ctx context.Context, e *registry.Entry, profile domain.WorkloadProfile) (domain.AttemptOutcome, string) {
	if !e.Enabled() {
		return domain.OutcomeDisabled, "provider disabled"
	}

	if !e.Breaker.ReadyForTrial() {
		return domain.OutcomeCircuitOpen, "circuit breaker open"
	}

	avail, err := r.quota.HasQuota(ctx, e.Spec.Name)
	if err != nil {
		// Stale-tolerant read: keep the provider eligible, just log.
		r.logger.Warn("quota read failed", "provider", e.Spec.Name, "error", err)
	} else if !avail.Available || !r.quota.Reserve(ctx, e.Spec.Name, 1, int64(profile.EstimatedTokens)) {
		return domain.OutcomeOverQuota, "free quota exhausted"
	}

	within, err := r.ledger.WithinBudget(ctx, e.Spec.Name)
	if err != nil {
		r.logger.Warn("budget read failed", "provider", e.Spec.Name, "error", err)
	}
	if !within {
		return domain.OutcomeOverBudget, "cost budget exceeded"
	}

	return "", ""
}

// sortCandidates orders by ascending priority, then observed average latency,
// then registration order. Deterministic, never random.
func sortCandidates(candidates []*registry.Entry) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Spec.Priority != b.Spec.Priority {
			return a.Spec.Priority < b.Spec.Priority
		}
		la, lb := a.AvgLatency(), b.AvgLatency()
		if la != lb {
			return la < lb
		}
		return a.Index() < b.Index()
	})
}

// attempt invokes one provider bounded by its configured timeout.
func (r *Router) attempt(ctx context.Context, e *registry.Entry, prompt string, maxOut int) (*executor.Result, time.Duration, error) {
	timeout := e.Spec.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.Executor.Invoke(actx, prompt, maxOut)
	return result, time.Since(start), err
}

// finishSuccess records accounting for a successful attempt and builds the
// response. Accounting failures are logged, never propagated: the dispatch
// already succeeded and the caller gets its response.
func (r *Router) finishSuccess(ctx context.Context, span telemetry.Span, e *registry.Entry, result *executor.Result, duration time.Duration) *domain.DispatchResponse {
	name := e.Spec.Name

	e.Breaker.RecordSuccess()
	e.ObserveLatency(duration)

	if err := r.quota.Record(ctx, name, 1, int64(result.InputTokens+result.OutputTokens)); err != nil {
		r.logger.Warn("usage record rejected", "provider", name, "error", err)
	}

	var costUSD float64
	if amount, ok := r.calculator.Calculate(name, result.InputTokens, result.OutputTokens); ok {
		costUSD = amount
		if err := r.ledger.Record(ctx, name, amount); err != nil {
			r.logger.Warn("cost record rejected", "provider", name, "error", err)
		} else {
			metrics.RecordCost(name, amount)
		}
	}

	metrics.RecordAttempt(name, string(domain.OutcomeSuccess), duration.Seconds())
	metrics.RecordTokens(name, result.InputTokens, result.OutputTokens)
	metrics.RecordRequest("success")

	r.emitter.Emit(events.New(events.TypeAttemptFinished, name, map[string]any{
		"outcome":     string(domain.OutcomeSuccess),
		"duration_ms": duration.Milliseconds(),
	}))

	telemetry.AddDispatchAttributes(span, name, result.InputTokens, result.OutputTokens, costUSD)

	return &domain.DispatchResponse{
		Text:         result.Text,
		Provider:     name,
		LatencyMs:    duration.Milliseconds(),
		CostUSD:      costUSD,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}
}
