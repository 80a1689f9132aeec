package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaKeyTTL keeps day buckets around long enough to survive clock skew and
// late reads, then lets Redis expire them.
const quotaKeyTTL = 48 * time.Hour

// RedisStore is a Redis-backed quota store for multi-instance deployments.
// Increments use HIncrBy so concurrent writers never lose updates.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(provider, day string) string {
	return fmt.Sprintf("quota:%s:%s", provider, day)
}

func (s *RedisStore) Usage(ctx context.Context, provider, day string) (Usage, error) {
	vals, err := s.client.HMGet(ctx, redisKey(provider, day), "requests", "tokens").Result()
	if err != nil {
		return Usage{}, fmt.Errorf("hmget quota: %w", err)
	}

	var u Usage
	u.Requests = parseInt64(vals[0])
	u.Tokens = parseInt64(vals[1])
	return u, nil
}

func (s *RedisStore) Add(ctx context.Context, provider, day string, requests, tokens int64) error {
	key := redisKey(provider, day)

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, "requests", requests)
	pipe.HIncrBy(ctx, key, "tokens", tokens)
	pipe.Expire(ctx, key, quotaKeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("incr quota: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// parseInt64 reads an HMGet field. Missing fields come back as nil and count
// as zero usage; a malformed value also reads as zero rather than poisoning
// the whole bucket.
func parseInt64(v interface{}) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
