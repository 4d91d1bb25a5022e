package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kyleking/ragsql/internal/config"
)

// ErrMiss is returned by Get when a key is absent or expired
var ErrMiss = errors.New("cache miss")

// Cache stores query results keyed by normalized-SQL signature
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Cleanup(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats represents cache statistics
type Stats struct {
	Backend      string  `json:"backend"`
	TotalEntries int64   `json:"total_entries"`
	TotalSize    int64   `json:"total_size"`
	HitRate      float64 `json:"hit_rate"`
	MissRate     float64 `json:"miss_rate"`
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (c *counters) hit()  { c.hits.Add(1) }
func (c *counters) miss() { c.misses.Add(1) }

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *counters) fill(stats *Stats) {
	stats.Hits = c.hits.Load()
	stats.Misses = c.misses.Load()

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
		stats.MissRate = float64(stats.Misses) / float64(total)
	}
}

// IsMiss reports whether err means the key was not served from cache
func IsMiss(err error) bool {
	return errors.Is(err, ErrMiss)
}

// New opens the backend named by cfg.Backend
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	ttl := config.Duration(cfg.TTL, time.Hour)

	switch cfg.Backend {
	case "", "file":
		return NewFileCache(cfg.Directory, cfg.MaxSizeMB, ttl, config.Duration(cfg.CleanupFreq, 0))
	case "redis":
		return NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisPrefix, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
