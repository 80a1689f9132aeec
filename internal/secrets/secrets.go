// Package secrets resolves provider credentials referenced from the provider
// inventory (executor.api_key_ref). Production deployments use AWS Secrets
// Manager; tests and local runs use the in-memory store.
package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Store resolves a credential by reference name.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

const defaultCacheTTL = 5 * time.Minute

// AWSStore reads secrets from AWS Secrets Manager with a short TTL cache so
// provider construction at startup and config reloads do not hammer the API.
type AWSStore struct {
	client *secretsmanager.Client
	mu     sync.RWMutex
	cache  map[string]cachedSecret
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSStoreWithConfig(cfg), nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]cachedSecret),
		ttl:    defaultCacheTTL,
	}
}

func (s *AWSStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if c, ok := s.cache[name]; ok && time.Now().Before(c.expiresAt) {
		s.mu.RUnlock()
		return c.value, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if out.SecretString != nil {
		value = *out.SecretString
	}

	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}

// SetCacheTTL overrides the cache TTL. Used by tests.
func (s *AWSStore) SetCacheTTL(ttl time.Duration) {
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// MemoryStore is a fixed map of secrets for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *MemoryStore) Set(name, value string) {
	s.mu.Lock()
	s.secrets[name] = value
	s.mu.Unlock()
}
