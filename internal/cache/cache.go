// Package cache provides a TTL key/value cache with two interchangeable
// backends: an in-process map and a hosted Redis instance shared by every
// server process.
//
// The backend is chosen once at startup by Detect. Backend failures never
// reach callers: a failed read is a miss and a failed write is dropped.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/besttutor/internal/metrics"
)

// Cache is the contract shared by every backend.
type Cache interface {
	// Get returns the value stored under key. Expired entries are reported
	// as a miss.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key. A ttl of zero means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes key if present.
	Delete(ctx context.Context, key string)

	// Clear removes every entry owned by this cache.
	Clear(ctx context.Context)
}

// Backend tags which implementation a Cache was built with.
type Backend string

const (
	BackendInMemory Backend = "memory"
	BackendHosted   Backend = "redis"
)

// Config holds the settings used to select and build a backend.
type Config struct {
	RedisURL   string        // empty selects the in-memory backend
	Prefix     string        // key namespace on the hosted backend
	MaxEntries int           // in-memory size bound
	DefaultTTL time.Duration // used by callers that do not pick their own
}

// Detect reports which backend the configuration supports. The hosted
// backend is preferred whenever its credentials are present.
func Detect(cfg Config) Backend {
	if cfg.RedisURL != "" {
		return BackendHosted
	}
	return BackendInMemory
}

// New builds the cache selected by Detect and wraps it with hit/miss
// logging and metrics. The returned client is nil for the in-memory backend;
// callers that own it must close it on shutdown.
func New(cfg Config, logger *slog.Logger) (Cache, *redis.Client, error) {
	logger = logger.With("component", "cache")

	switch backend := Detect(cfg); backend {
	case BackendHosted:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		logger.Info("cache backend selected", "backend", backend, "addr", opts.Addr)
		return Instrument(NewRedis(client, cfg.Prefix, logger), backend, logger), client, nil
	default:
		logger.Info("cache backend selected", "backend", backend, "max_entries", cfg.MaxEntries)
		return Instrument(NewMemory(cfg.MaxEntries), backend, logger), nil, nil
	}
}

// instrumented logs and counts every lookup on the wrapped cache.
type instrumented struct {
	next    Cache
	backend Backend
	logger  *slog.Logger
}

// Instrument wraps c so that each Get is logged at debug level and counted.
func Instrument(c Cache, backend Backend, logger *slog.Logger) Cache {
	return &instrumented{next: c, backend: backend, logger: logger}
}

func (c *instrumented) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok := c.next.Get(ctx, key)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(string(c.backend), result).Inc()
	c.logger.DebugContext(ctx, "cache "+result, "key", key, "backend", c.backend)
	return value, ok
}

func (c *instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.next.Set(ctx, key, value, ttl)
}

func (c *instrumented) Delete(ctx context.Context, key string) {
	c.next.Delete(ctx, key)
}

func (c *instrumented) Clear(ctx context.Context) {
	c.next.Clear(ctx)
}
