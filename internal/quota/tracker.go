// Package quota tracks per-provider daily usage against configured free
// allowances. Counters roll over lazily: reads after the day boundary return
// zero usage without an explicit reset, because the day bucket is part of the
// storage key.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

// Usage is a (provider, day) counter pair. Values are monotonically
// non-decreasing within a day.
type Usage struct {
	Requests int64
	Tokens   int64
}

// Store is the persistence port for quota counters. Add must be atomic:
// concurrent increments must not lose updates.
type Store interface {
	Usage(ctx context.Context, provider, day string) (Usage, error)
	Add(ctx context.Context, provider, day string, requests, tokens int64) error
}

// Availability reports remaining free-tier headroom for a provider.
type Availability struct {
	Available         bool  `json:"available"`
	RequestsRemaining int64 `json:"requests_remaining"`
	TokensRemaining   int64 `json:"tokens_remaining"`
}

// Tracker enforces daily free quotas per provider. Providers without a
// configured free tier always report unrestricted availability.
type Tracker struct {
	store     Store
	limits    map[string]domain.QuotaLimits
	resetHour int // UTC hour at which the day rolls over
	now       func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithResetHour sets the UTC hour of the daily rollover. Default is 0
// (UTC midnight).
func WithResetHour(hour int) TrackerOption {
	return func(t *Tracker) { t.resetHour = hour }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over the given store. limits maps provider
// name to its free allowance; providers absent from the map are untracked.
func NewTracker(store Store, limits map[string]domain.QuotaLimits, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DayBucket returns the storage key suffix for the day containing ts,
// shifted by the configured reset hour.
func (t *Tracker) DayBucket(ts time.Time) string {
	return ts.UTC().Add(-time.Duration(t.resetHour) * time.Hour).Format("2006-01-02")
}

// Record adds observed usage for a provider. Negative values fail with an
// error matching domain.ErrInvalidUsage and perform no partial write: the
// whole call is rejected before the store is touched.
func (t *Tracker) Record(ctx context.Context, provider string, requests, tokens int64) error {
	if requests < 0 {
		return &domain.InvalidUsageError{Provider: provider, Field: "requests", Value: requests}
	}
	if tokens < 0 {
		return &domain.InvalidUsageError{Provider: provider, Field: "tokens", Value: tokens}
	}

	day := t.DayBucket(t.now())
	if err := t.store.Add(ctx, provider, day, requests, tokens); err != nil {
		return fmt.Errorf("record usage for %s: %w", provider, err)
	}
	return nil
}

// Reserve is a best-effort, non-binding pre-check: it reports whether the
// provider currently has headroom for the estimated usage. It does not hold
// a reservation; Record is the authoritative write.
func (t *Tracker) Reserve(ctx context.Context, provider string, requests, tokens int64) bool {
	limits, ok := t.limits[provider]
	if !ok {
		return true
	}

	usage, err := t.usageToday(ctx, provider)
	if err != nil {
		// Stale-tolerant read: a store error must not block routing.
		return true
	}

	if limits.RequestsPerDay > 0 && usage.Requests+requests > limits.RequestsPerDay {
		return false
	}
	if limits.TokensPerDay > 0 && usage.Tokens+tokens > limits.TokensPerDay {
		return false
	}
	return true
}

// HasQuota reports remaining availability for a provider. A provider with no
// configured free tier always reports unrestricted availability.
func (t *Tracker) HasQuota(ctx context.Context, provider string) (Availability, error) {
	limits, ok := t.limits[provider]
	if !ok {
		return Availability{Available: true, RequestsRemaining: -1, TokensRemaining: -1}, nil
	}

	usage, err := t.usageToday(ctx, provider)
	if err != nil {
		return Availability{}, fmt.Errorf("read usage for %s: %w", provider, err)
	}

	avail := Availability{Available: true, RequestsRemaining: -1, TokensRemaining: -1}
	if limits.RequestsPerDay > 0 {
		avail.RequestsRemaining = max64(limits.RequestsPerDay-usage.Requests, 0)
		if avail.RequestsRemaining == 0 {
			avail.Available = false
		}
	}
	if limits.TokensPerDay > 0 {
		avail.TokensRemaining = max64(limits.TokensPerDay-usage.Tokens, 0)
		if avail.TokensRemaining == 0 {
			avail.Available = false
		}
	}
	return avail, nil
}

func (t *Tracker) usageToday(ctx context.Context, provider string) (Usage, error) {
	return t.store.Usage(ctx, provider, t.DayBucket(t.now()))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// MemoryStore is a mutex-guarded in-process quota store, suitable for
// single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]Usage
}

// NewMemoryStore creates an empty in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]Usage)}
}

func memKey(provider, day string) string {
	return provider + ":" + day
}

func (s *MemoryStore) Usage(ctx context.Context, provider, day string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[memKey(provider, day)], nil
}

func (s *MemoryStore) Add(ctx context.Context, provider, day string, requests, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(provider, day)
	u := s.counts[key]
	u.Requests += requests
	u.Tokens += tokens
	s.counts[key] = u
	return nil
}
