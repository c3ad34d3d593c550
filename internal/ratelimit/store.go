package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Reservation is the outcome of consuming or inspecting a key.
type Reservation struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store tracks points per key.
type Store interface {
	// Consume takes one point from key, reporting whether one was available.
	Consume(ctx context.Context, key string, points int, window time.Duration) (Reservation, error)

	// Peek reports the state of key without consuming.
	Peek(ctx context.Context, key string, points int, window time.Duration) (Reservation, error)
}

// NewStore returns the Redis store when a client is available and the
// in-process store otherwise, mirroring the cache backend selection.
func NewStore(client *redis.Client, prefix string) Store {
	if client != nil {
		return NewRedisStore(client, prefix)
	}
	return NewMemoryStore()
}

// =============================================================================
// In-process token bucket
// =============================================================================

// sweepInterval bounds how often MemoryStore scans for idle buckets.
const sweepInterval = time.Minute

// MemoryStore keeps one token bucket per key. Buckets start full with
// capacity points and refill at points per window. A bucket left unused for
// a whole window is full again, so it is dropped and recreated on demand.
type MemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	lastSweep time.Time
	now       func() time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastUsed time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

func (s *MemoryStore) bucket(key string, points int, window time.Duration, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &memoryBucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(points)), points),
			window:  window,
		}
		s.buckets[key] = b
	}
	b.lastUsed = now
	return b.limiter
}

// sweep drops buckets idle for at least their window. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	for key, b := range s.buckets {
		if now.Sub(b.lastUsed) >= b.window {
			delete(s.buckets, key)
		}
	}
	s.lastSweep = now
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) Consume(_ context.Context, key string, points int, window time.Duration) (Reservation, error) {
	now := s.now()
	b := s.bucket(key, points, window, now)
	allowed := b.AllowN(now, 1)
	return s.reservation(b, now, points, window, allowed), nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, points int, window time.Duration) (Reservation, error) {
	now := s.now()
	b := s.bucket(key, points, window, now)
	return s.reservation(b, now, points, window, b.TokensAt(now) >= 1), nil
}

func (s *MemoryStore) reservation(b *rate.Limiter, now time.Time, points int, window time.Duration, allowed bool) Reservation {
	tokens := b.TokensAt(now)
	interval := window / time.Duration(points)

	res := Reservation{
		Allowed:   allowed,
		Remaining: int(math.Floor(math.Max(tokens, 0))),
	}
	if allowed {
		// Time until the bucket is full again.
		missing := float64(points) - tokens
		res.ResetAt = now.Add(time.Duration(missing * float64(interval)))
	} else {
		// Time until the next point is available.
		res.ResetAt = now.Add(time.Duration((1 - tokens) * float64(interval)))
	}
	return res
}

// =============================================================================
// Redis fixed window
// =============================================================================

// RedisStore counts calls in fixed windows shared by every process using
// the same Redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "besttutor:"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Consume(ctx context.Context, key string, points int, window time.Duration) (Reservation, error) {
	key = s.prefix + key

	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}

	count := int(incr.Val())
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		// First hit opens the window.
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return Reservation{}, err
		}
		ttl = window
	}

	remaining := points - count
	if remaining < 0 {
		remaining = 0
	}
	return Reservation{
		Allowed:   count <= points,
		Remaining: remaining,
		ResetAt:   s.now().Add(ttl),
	}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, points int, window time.Duration) (Reservation, error) {
	key = s.prefix + key

	var get *redis.StringCmd
	var pttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Reservation{}, err
	}

	count, _ := get.Int()
	ttl := pttl.Val()
	if ttl < 0 {
		ttl = 0
	}

	remaining := points - count
	if remaining < 0 {
		remaining = 0
	}
	return Reservation{
		Allowed:   remaining > 0,
		Remaining: remaining,
		ResetAt:   s.now().Add(ttl),
	}, nil
}
