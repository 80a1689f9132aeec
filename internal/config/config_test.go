package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.Addr)
	}
	if cfg.HealthInterval != 5*time.Minute {
		t.Errorf("expected default health interval 5m, got %v", cfg.HealthInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")
	t.Setenv("QUOTA_RESET_HOUR", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Addr)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.QuotaResetHour != 3 {
		t.Errorf("expected reset hour 3, got %d", cfg.QuotaResetHour)
	}
}

func TestLoadRejectsBadResetHour(t *testing.T) {
	t.Setenv("QUOTA_RESET_HOUR", "24")
	if _, err := Load(); err == nil {
		t.Error("expected error for reset hour out of range")
	}
}

const sampleProviders = `
providers:
  - name: local
    priority: 1
    timeout_seconds: 30
    executor:
      type: http
      endpoint: http://localhost:9000
    free_quota:
      requests_per_day: 1000
      tokens_per_day: 500000
    circuit_breaker:
      failure_threshold: 3
      recovery_timeout_seconds: 60
  - name: bedrock
    priority: 2
    timeout_seconds: 120
    executor:
      type: bedrock
      model_id: anthropic.claude-3-haiku-20240307-v1:0
    cost_budget:
      amount_usd: 10.0
      window_seconds: 86400
    pricing:
      input_per_1k: 0.00025
      output_per_1k: 0.00125
`

func TestParseProviders(t *testing.T) {
	pf, err := ParseProviders([]byte(sampleProviders))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pf.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(pf.Providers))
	}

	spec := pf.Providers[0].Spec()
	if spec.Name != "local" || spec.Priority != 1 {
		t.Errorf("unexpected spec %+v", spec)
	}
	if spec.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", spec.Timeout)
	}
	if spec.FreeQuota == nil || spec.FreeQuota.RequestsPerDay != 1000 {
		t.Errorf("expected free quota parsed, got %+v", spec.FreeQuota)
	}
	if spec.Breaker.FailureThreshold != 3 || spec.Breaker.RecoveryTimeout != time.Minute {
		t.Errorf("expected breaker config parsed, got %+v", spec.Breaker)
	}

	limits := pf.QuotaLimits()
	if _, ok := limits["bedrock"]; ok {
		t.Error("bedrock has no free quota, must not appear in limits")
	}

	budgets := pf.CostBudgets()
	if b, ok := budgets["bedrock"]; !ok || b.AmountUSD != 10.0 || b.Window != 24*time.Hour {
		t.Errorf("expected bedrock budget, got %+v", b)
	}

	pricing := pf.Pricing()
	if p, ok := pricing["bedrock"]; !ok || p.OutputPer1K != 0.00125 {
		t.Errorf("expected bedrock pricing, got %+v", p)
	}
}

func TestParseProvidersValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing name", "providers:\n  - priority: 1\n    executor:\n      type: http\n"},
		{"missing executor type", "providers:\n  - name: a\n    priority: 1\n"},
		{"duplicate name", "providers:\n  - name: a\n    executor: {type: http}\n  - name: a\n    executor: {type: http}\n"},
		{"malformed yaml", "providers: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseProviders([]byte(tc.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
