package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/besttutor/internal/metrics"
)

const clearScanCount = 200

// Redis is the hosted backend. Keys are namespaced by prefix so Clear only
// touches entries this cache wrote.
type Redis struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ Cache = (*Redis)(nil)

// NewRedis creates a cache over an existing client.
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "besttutor:cache:"
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.fail(ctx, "get", key, err)
		return nil, false
	}
	return value, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		r.fail(ctx, "set", key, err)
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.fail(ctx, "delete", key, err)
	}
}

func (r *Redis) Clear(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", clearScanCount).Result()
		if err != nil {
			r.fail(ctx, "clear", r.prefix+"*", err)
			return
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.fail(ctx, "clear", r.prefix+"*", err)
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func (r *Redis) fail(ctx context.Context, op, key string, err error) {
	metrics.CacheLookupsTotal.WithLabelValues(string(BackendHosted), "error").Inc()
	r.logger.WarnContext(ctx, "cache backend failure", "op", op, "key", key, "error", err)
}
