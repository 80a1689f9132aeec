// Package cost accumulates monetary spend per provider and enforces cost
// budgets over rolling windows. Amounts are validated at insertion time, not
// at read time: a single non-finite value would corrupt every subsequent
// aggregate read.
package cost

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

// Entry is one append-only cost record.
type Entry struct {
	Provider  string
	AmountUSD float64
	Timestamp time.Time
}

// Store is the persistence port for cost entries. Append-only; aggregation
// happens through TotalSince.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	TotalSince(ctx context.Context, provider string, since time.Time) (float64, error)
}

// Ledger tracks per-provider spend against configured budgets. Providers
// without a configured budget are always within budget.
type Ledger struct {
	store   Store
	budgets map[string]domain.CostBudget
	now     func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger over the given store. budgets maps provider name
// to its ceiling; providers absent from the map are unbudgeted.
func NewLedger(store Store, budgets map[string]domain.CostBudget, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:   store,
		budgets: budgets,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a cost entry. Negative, NaN, and infinite amounts fail with
// an error matching domain.ErrInvalidCost before any aggregate is touched.
func (l *Ledger) Record(ctx context.Context, provider string, amountUSD float64) error {
	if math.IsNaN(amountUSD) || math.IsInf(amountUSD, 0) || amountUSD < 0 {
		return &domain.InvalidCostError{Provider: provider, Amount: amountUSD}
	}

	entry := Entry{
		Provider:  provider,
		AmountUSD: amountUSD,
		Timestamp: l.now(),
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append cost entry for %s: %w", provider, err)
	}
	return nil
}

// TotalSince returns the aggregate spend for a provider since windowStart.
func (l *Ledger) TotalSince(ctx context.Context, provider string, since time.Time) (float64, error) {
	return l.store.TotalSince(ctx, provider, since)
}

// WithinBudget reports whether the provider's spend over its configured
// window is below its ceiling. A store read error fails open with the caller
// expected to log it; budget reads are stale-tolerant like health snapshots.
func (l *Ledger) WithinBudget(ctx context.Context, provider string) (bool, error) {
	budget, ok := l.budgets[provider]
	if !ok || budget.AmountUSD <= 0 {
		return true, nil
	}

	windowStart := l.now().Add(-budget.Window)
	total, err := l.store.TotalSince(ctx, provider, windowStart)
	if err != nil {
		return true, fmt.Errorf("read spend for %s: %w", provider, err)
	}

	return total < budget.AmountUSD, nil
}

// Budget returns the configured budget for a provider, if any.
func (l *Ledger) Budget(provider string) (domain.CostBudget, bool) {
	b, ok := l.budgets[provider]
	return b, ok
}

// Calculator converts token usage into USD using per-provider per-1K pricing.
type Calculator struct {
	mu      sync.RWMutex
	pricing map[string]domain.Pricing
}

// NewCalculator creates a calculator from the providers' configured pricing.
func NewCalculator(pricing map[string]domain.Pricing) *Calculator {
	if pricing == nil {
		pricing = make(map[string]domain.Pricing)
	}
	return &Calculator{pricing: pricing}
}

// Calculate returns the cost of an attempt. Providers without pricing cost
// zero and the second return is false, so callers can skip the ledger write.
func (c *Calculator) Calculate(provider string, inputTokens, outputTokens int) (float64, bool) {
	c.mu.RLock()
	p, ok := c.pricing[provider]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}

	inputCost := float64(inputTokens) / 1000 * p.InputPer1K
	outputCost := float64(outputTokens) / 1000 * p.OutputPer1K
	return inputCost + outputCost, true
}

// SetPricing overrides pricing for a provider at runtime.
func (c *Calculator) SetPricing(provider string, p domain.Pricing) {
	c.mu.Lock()
	c.pricing[provider] = p
	c.mu.Unlock()
}

// MemoryStore is a mutex-guarded in-process cost store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty in-memory cost store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TotalSince(ctx context.Context, provider string, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, e := range s.entries {
		if e.Provider == provider && !e.Timestamp.Before(since) {
			total += e.AmountUSD
		}
	}
	return total, nil
}

// Entries returns a copy of all recorded entries. Used by tests and the
// providers status endpoint.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
