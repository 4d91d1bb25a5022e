package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 256

// RedisCache shares cached results between processes through a Redis server
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	counters   counters
}

// NewRedisCache connects to addr and verifies the connection with a ping
func NewRedisCache(ctx context.Context, addr string, db int, prefix string, defaultTTL time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewRedisCacheWithClient(client, prefix, defaultTTL), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

func (r *RedisCache) key(key string) string {
	return r.prefix + hashKey(key)
}

// Get retrieves data from cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		r.counters.miss()
		return nil, ErrMiss
	}

	if err != nil {
		r.counters.miss()
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}

	r.counters.hit()

	return val, nil
}

// Set stores data with TTL; redis expires the key on its own
func (r *RedisCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}

	return nil
}

// Delete removes an entry from cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}

	return nil
}

// Clear removes every key under the cache prefix
func (r *RedisCache) Clear(ctx context.Context) error {
	err := r.scan(ctx, func(keys []string) error {
		return r.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	r.counters.reset()

	return nil
}

// Cleanup is a no-op; redis expires keys itself
func (r *RedisCache) Cleanup(_ context.Context) error {
	return nil
}

// GetStats returns cache statistics
func (r *RedisCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Backend: "redis"}

	err := r.scan(ctx, func(keys []string) error {
		stats.TotalEntries += int64(len(keys))

		for _, k := range keys {
			n, err := r.client.StrLen(ctx, k).Result()
			if err != nil {
				return err
			}

			stats.TotalSize += n
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect cache stats: %w", err)
	}

	r.counters.fill(stats)

	return stats, nil
}

// Close closes the underlying client
func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64

	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}

		cursor = next
	}
}
