package cache

import (
	"context"
	"log/slog"
	"time"
)

// Backend type names reported by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// CacheConfig selects and sizes the cache backend
type CacheConfig struct {
	RedisURL        string // Empty selects the memory backend
	Prefix          string
	MaxEntries      int
	CleanupInterval time.Duration
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Prefix:          "relaypool:",
		MaxEntries:      1024,
		CleanupInterval: time.Minute,
	}
}

// New opens Redis when a URL is configured and falls back to memory when it
// is unreachable. The returned string is the backend type for health reports.
func New(ctx context.Context, cfg CacheConfig) (CacheBackend, string) {
	if cfg.RedisURL != "" {
		slog.Info("initializing Redis cache")
		redisCache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.Prefix)
		if err == nil {
			slog.Info("Redis cache initialized")
			return redisCache, BackendRedis
		}
		slog.Warn("Redis connection failed, using memory cache", "error", err)
	}
	return NewMemoryCache(cfg.MaxEntries, cfg.CleanupInterval), BackendMemory
}
