// Package config loads runtime settings from the environment and the
// provider inventory from a YAML file. Environment variables hold deployment
// wiring (addresses, store URLs, credentials); the providers file holds the
// routing table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/execroute/execroute/internal/domain"
)

type Config struct {
	Addr          string
	LogLevel      string
	RedisURL      string
	DatabaseURL   string
	ProvidersFile string
	OTLPEndpoint  string
	AWSRegion     string
	EncryptionKey string
	AdminKeyHash  string
	SNSTopicARN   string

	SQSDispatchQueueURL string
	SQSResultQueueURL   string

	QuotaResetHour int

	HealthInterval     time.Duration
	HealthProbeTimeout time.Duration

	// Graceful shutdown
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisURL:            getEnv("REDIS_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ProvidersFile:       getEnv("PROVIDERS_FILE", "providers.yaml"),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:           getEnv("AWS_REGION", ""),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		AdminKeyHash:        getEnv("ADMIN_KEY_HASH", ""),
		SNSTopicARN:         getEnv("SNS_TOPIC_ARN", ""),
		SQSDispatchQueueURL: getEnv("SQS_DISPATCH_QUEUE_URL", ""),
		SQSResultQueueURL:   getEnv("SQS_RESULT_QUEUE_URL", ""),
		QuotaResetHour:      getIntEnv("QUOTA_RESET_HOUR", 0),
		HealthInterval:      getDurationEnv("HEALTH_INTERVAL", 5*time.Minute),
		HealthProbeTimeout:  getDurationEnv("HEALTH_PROBE_TIMEOUT", 5*time.Second),
		ShutdownTimeout:     getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:        getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	if cfg.QuotaResetHour < 0 || cfg.QuotaResetHour > 23 {
		return nil, fmt.Errorf("QUOTA_RESET_HOUR must be in [0,23], got %d", cfg.QuotaResetHour)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

// ExecutorConfig selects and parameterizes the backend adapter for one
// provider.
type ExecutorConfig struct {
	Type     string   `yaml:"type"` // static, http, subprocess, bedrock
	Endpoint string   `yaml:"endpoint,omitempty"`
	Command  string   `yaml:"command,omitempty"`
	Args     []string `yaml:"args,omitempty"`
	ModelID  string   `yaml:"model_id,omitempty"`

	// APIKeyRef names a secret in the secrets store; APIKeySealed holds a
	// credential sealed with the configured encryption key. At most one of
	// the two should be set.
	APIKeyRef    string `yaml:"api_key_ref,omitempty"`
	APIKeySealed string `yaml:"api_key_sealed,omitempty"`
}

// ProviderConfig is the YAML shape of one provider entry.
type ProviderConfig struct {
	Name     string         `yaml:"name"`
	Priority int            `yaml:"priority"`
	Timeout  int            `yaml:"timeout_seconds"`
	Executor ExecutorConfig `yaml:"executor"`

	FreeQuota *struct {
		RequestsPerDay int64 `yaml:"requests_per_day"`
		TokensPerDay   int64 `yaml:"tokens_per_day"`
	} `yaml:"free_quota,omitempty"`

	CostBudget *struct {
		AmountUSD     float64 `yaml:"amount_usd"`
		WindowSeconds int     `yaml:"window_seconds"`
	} `yaml:"cost_budget,omitempty"`

	CircuitBreaker *struct {
		FailureThreshold int `yaml:"failure_threshold"`
		RecoveryTimeout  int `yaml:"recovery_timeout_seconds"`
	} `yaml:"circuit_breaker,omitempty"`

	Pricing *struct {
		InputPer1K  float64 `yaml:"input_per_1k"`
		OutputPer1K float64 `yaml:"output_per_1k"`
	} `yaml:"pricing,omitempty"`
}

// ProvidersFile is the top-level YAML document.
type ProvidersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviders reads and validates the provider inventory.
func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders parses and validates a provider inventory document.
func ParseProviders(data []byte) (*ProvidersFile, error) {
	var pf ProvidersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	seen := make(map[string]bool, len(pf.Providers))
	for i, p := range pf.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if p.Executor.Type == "" {
			return nil, fmt.Errorf("provider %q: executor.type is required", p.Name)
		}
	}
	return &pf, nil
}

// Spec converts a YAML provider entry into the domain spec.
func (p ProviderConfig) Spec() domain.ProviderSpec {
	spec := domain.ProviderSpec{
		Name:     p.Name,
		Priority: p.Priority,
		Timeout:  time.Duration(p.Timeout) * time.Second,
	}
	if p.FreeQuota != nil {
		spec.FreeQuota = &domain.QuotaLimits{
			RequestsPerDay: p.FreeQuota.RequestsPerDay,
			TokensPerDay:   p.FreeQuota.TokensPerDay,
		}
	}
	if p.CostBudget != nil {
		spec.CostBudget = &domain.CostBudget{
			AmountUSD: p.CostBudget.AmountUSD,
			Window:    time.Duration(p.CostBudget.WindowSeconds) * time.Second,
		}
	}
	if p.CircuitBreaker != nil {
		spec.Breaker = domain.BreakerConfig{
			FailureThreshold: p.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(p.CircuitBreaker.RecoveryTimeout) * time.Second,
		}
	}
	if p.Pricing != nil {
		spec.Pricing = &domain.Pricing{
			InputPer1K:  p.Pricing.InputPer1K,
			OutputPer1K: p.Pricing.OutputPer1K,
		}
	}
	return spec
}

// QuotaLimits collects the configured free tiers keyed by provider name.
func (pf *ProvidersFile) QuotaLimits() map[string]domain.QuotaLimits {
	out := make(map[string]domain.QuotaLimits)
	for _, p := range pf.Providers {
		if p.FreeQuota != nil {
			out[p.Name] = domain.QuotaLimits{
				RequestsPerDay: p.FreeQuota.RequestsPerDay,
				TokensPerDay:   p.FreeQuota.TokensPerDay,
			}
		}
	}
	return out
}

// CostBudgets collects the configured budgets keyed by provider name.
func (pf *ProvidersFile) CostBudgets() map[string]domain.CostBudget {
	out := make(map[string]domain.CostBudget)
	for _, p := range pf.Providers {
		if p.CostBudget != nil {
			out[p.Name] = domain.CostBudget{
				AmountUSD: p.CostBudget.AmountUSD,
				Window:    time.Duration(p.CostBudget.WindowSeconds) * time.Second,
			}
		}
	}
	return out
}

// Pricing collects the configured pricing keyed by provider name.
func (pf *ProvidersFile) Pricing() map[string]domain.Pricing {
	out := make(map[string]domain.Pricing)
	for _, p := range pf.Providers {
		if p.Pricing != nil {
			out[p.Name] = domain.Pricing{
				InputPer1K:  p.Pricing.InputPer1K,
				OutputPer1K: p.Pricing.OutputPer1K,
			}
		}
	}
	return out
}
