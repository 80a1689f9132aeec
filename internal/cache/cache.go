// Package cache provides response caching for identical dispatch requests.
// It supports both in-memory (single instance) and Redis (distributed)
// backends. A cache hit skips routing entirely, so it consumes no quota and
// records no cost.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/execroute/execroute/internal/domain"
)

// Cache defines the interface for response caching backends.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.DispatchResponse, bool)
	Set(ctx context.Context, key string, resp *domain.DispatchResponse, ttl time.Duration) error
}

// Key derives a cache key from a dispatch request. The key is a SHA-256 hash
// of the prompt, the max output tokens, and the explicit provider (an
// explicitly routed response must not be served for an auto-routed request).
func Key(req domain.DispatchRequest) string {
	data, _ := json.Marshal(struct {
		Prompt          string   `json:"prompt"`
		MaxOutputTokens *float64 `json:"max_output_tokens,omitempty"`
		Provider        string   `json:"provider,omitempty"`
	}{
		Prompt:          req.Prompt,
		MaxOutputTokens: req.MaxOutputTokens,
		Provider:        req.Provider,
	})

	hash := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(hash[:])
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	response  *domain.DispatchResponse
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*cacheItem),
	}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (*domain.DispatchResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		return nil, false
	}

	return item.response, true
}

func (c *InMemoryCache) Set(ctx context.Context, key string, resp *domain.DispatchResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		response:  resp,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.DispatchResponse, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var resp domain.DispatchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}

	return &resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp *domain.DispatchResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
