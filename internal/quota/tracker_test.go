package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

func testTracker(limits map[string]domain.QuotaLimits, opts ...TrackerOption) *Tracker {
	return NewTracker(NewMemoryStore(), limits, opts...)
}

func TestTracker_RecordAndHasQuota(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(map[string]domain.QuotaLimits{
		"p1": {RequestsPerDay: 10, TokensPerDay: 1000},
	})

	if err := tr.Record(ctx, "p1", 3, 300); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	avail, err := tr.HasQuota(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avail.Available {
		t.Error("expected quota available")
	}
	if avail.RequestsRemaining != 7 {
		t.Errorf("expected 7 requests remaining, got %d", avail.RequestsRemaining)
	}
	if avail.TokensRemaining != 700 {
		t.Errorf("expected 700 tokens remaining, got %d", avail.TokensRemaining)
	}
}

func TestTracker_ExhaustedQuota(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(map[string]domain.QuotaLimits{
		"p1": {RequestsPerDay: 2},
	})

	tr.Record(ctx, "p1", 2, 0)

	avail, err := tr.HasQuota(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.Available {
		t.Error("expected quota exhausted")
	}
	if avail.RequestsRemaining != 0 {
		t.Errorf("expected 0 requests remaining, got %d", avail.RequestsRemaining)
	}
}

func TestTracker_NoFreeTierAlwaysAvailable(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(nil)

	tr.Record(ctx, "paid", 1000000, 100000000)

	avail, err := tr.HasQuota(ctx, "paid")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !avail.Available {
		t.Error("provider without free tier must always report availability")
	}
}

func TestTracker_RejectsNegativeValues(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(map[string]domain.QuotaLimits{
		"p1": {RequestsPerDay: 10},
	})

	tr.Record(ctx, "p1", 1, 100)
	before, _ := tr.HasQuota(ctx, "p1")

	err := tr.Record(ctx, "p1", -5, 100)
	if !errors.Is(err, domain.ErrInvalidUsage) {
		t.Fatalf("expected ErrInvalidUsage, got %v", err)
	}

	// The rejected write must leave counters untouched, including the valid
	// tokens component of the same call.
	after, _ := tr.HasQuota(ctx, "p1")
	if after != before {
		t.Errorf("rejected write changed quota: before=%+v after=%+v", before, after)
	}

	err = tr.Record(ctx, "p1", 1, -1)
	if !errors.Is(err, domain.ErrInvalidUsage) {
		t.Errorf("expected ErrInvalidUsage for negative tokens, got %v", err)
	}
}

func TestTracker_LazyDayRollover(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	tr := testTracker(
		map[string]domain.QuotaLimits{"p1": {RequestsPerDay: 5}},
		WithClock(func() time.Time { return current }),
	)

	tr.Record(ctx, "p1", 5, 0)
	avail, _ := tr.HasQuota(ctx, "p1")
	if avail.Available {
		t.Fatal("expected quota exhausted before rollover")
	}

	// Cross UTC midnight: reads report zero usage without any reset call.
	current = time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)
	avail, _ = tr.HasQuota(ctx, "p1")
	if !avail.Available {
		t.Error("expected fresh quota after day boundary")
	}
	if avail.RequestsRemaining != 5 {
		t.Errorf("expected full allowance after rollover, got %d", avail.RequestsRemaining)
	}
}

func TestTracker_ConfiguredResetHour(t *testing.T) {
	current := time.Date(2025, 6, 2, 2, 0, 0, 0, time.UTC)
	tr := testTracker(
		map[string]domain.QuotaLimits{"p1": {RequestsPerDay: 5}},
		WithResetHour(3),
		WithClock(func() time.Time { return current }),
	)

	// 02:00 UTC with a 03:00 reset hour still belongs to the previous day.
	if got := tr.DayBucket(current); got != "2025-06-01" {
		t.Errorf("expected bucket 2025-06-01, got %s", got)
	}

	if got := tr.DayBucket(time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)); got != "2025-06-02" {
		t.Errorf("expected bucket 2025-06-02 at the reset hour, got %s", got)
	}
}

func TestTracker_Reserve(t *testing.T) {
	ctx := context.Background()
	tr := testTracker(map[string]domain.QuotaLimits{
		"p1": {TokensPerDay: 100},
	})

	if !tr.Reserve(ctx, "p1", 1, 80) {
		t.Error("expected reserve to pass under the limit")
	}

	tr.Record(ctx, "p1", 1, 80)

	if tr.Reserve(ctx, "p1", 1, 30) {
		t.Error("expected reserve to fail over the limit")
	}
	if !tr.Reserve(ctx, "untracked", 1, 1000000) {
		t.Error("expected reserve to pass for untracked provider")
	}
}

func TestMemoryStore_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				store.Add(ctx, "p1", "2025-06-01", 1, 10)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	u, _ := store.Usage(ctx, "p1", "2025-06-01")
	if u.Requests != 1000 {
		t.Errorf("lost updates: expected 1000 requests, got %d", u.Requests)
	}
	if u.Tokens != 10000 {
		t.Errorf("lost updates: expected 10000 tokens, got %d", u.Tokens)
	}
}
