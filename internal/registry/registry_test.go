package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/execroute/execroute/internal/circuitbreaker"
	"github.com/execroute/execroute/internal/domain"
	"github.com/execroute/execroute/internal/executor"
)

func testEntry(t *testing.T, name string) (*Registry, *Entry) {
	t.Helper()
	r := New()
	e := r.Register(
		domain.ProviderSpec{Name: name, Priority: 1, Timeout: time.Second},
		executor.NewStatic(name, "ok"),
		circuitbreaker.New(name, circuitbreaker.DefaultConfig()),
	)
	return r, e
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r, e := testEntry(t, "p1")

	got, ok := r.Get("p1")
	if !ok || got != e {
		t.Fatal("expected to get registered entry")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("expected miss for unknown provider")
	}
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	r := New()
	names := []string{"c", "a", "b"}
	for _, n := range names {
		r.Register(
			domain.ProviderSpec{Name: n},
			executor.NewStatic(n),
			circuitbreaker.New(n, circuitbreaker.DefaultConfig()),
		)
	}

	list := r.List()
	for i, n := range names {
		if list[i].Spec.Name != n {
			t.Errorf("position %d: expected %s, got %s", i, n, list[i].Spec.Name)
		}
		if list[i].Index() != i {
			t.Errorf("position %d: expected index %d, got %d", i, i, list[i].Index())
		}
	}
}

func TestEntry_RecordProbe(t *testing.T) {
	_, e := testEntry(t, "p1")

	at := time.Now()
	e.RecordProbe(at, 20*time.Millisecond, nil)

	snap := e.Snapshot()
	if !snap.Available {
		t.Error("expected available after successful probe")
	}
	if snap.ConsecutiveFailures != 0 {
		t.Errorf("expected 0 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
	if !snap.LastProbeAt.Equal(at) {
		t.Errorf("expected probe time recorded")
	}

	e.RecordProbe(at.Add(time.Minute), 0, errors.New("down"))
	e.RecordProbe(at.Add(2*time.Minute), 0, errors.New("down"))

	snap = e.Snapshot()
	if snap.Available {
		t.Error("expected unavailable after failed probe")
	}
	if snap.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", snap.ConsecutiveFailures)
	}
}

func TestEntry_LatencyAverage(t *testing.T) {
	_, e := testEntry(t, "p1")

	e.ObserveLatency(100 * time.Millisecond)
	if e.AvgLatency() != 100*time.Millisecond {
		t.Errorf("first sample should seed the average, got %v", e.AvgLatency())
	}

	e.ObserveLatency(200 * time.Millisecond)
	avg := e.AvgLatency()
	if avg <= 100*time.Millisecond || avg >= 200*time.Millisecond {
		t.Errorf("expected average between samples, got %v", avg)
	}
}

func TestEntry_SetEnabled(t *testing.T) {
	_, e := testEntry(t, "p1")

	if !e.Enabled() {
		t.Fatal("expected providers to start enabled")
	}
	e.SetEnabled(false)
	if e.Enabled() {
		t.Error("expected disabled after SetEnabled(false)")
	}
	if e.Snapshot().Enabled {
		t.Error("expected snapshot to reflect disabled state")
	}
}
