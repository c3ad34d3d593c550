// Package ratelimit guards outbound provider calls with two independent
// constraints: a cap on concurrently running calls and a cap on calls per
// time window.
//
// Limiters are built once at startup and injected; nothing here is global.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/DukeRupert/besttutor/internal/metrics"
)

// ErrRateLimitExceeded is matched by every rejection from Execute.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError reports a call rejected because the window had no points left.
type ExceededError struct {
	Limiter    string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: rate limit exceeded, retry after %s", e.Limiter, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrRateLimitExceeded) match.
func (e *ExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

// Config describes one limiter profile.
type Config struct {
	Name        string
	Concurrency int           // maximum calls in flight
	Points      int           // calls allowed per window
	Window      time.Duration // window length
}

// Validate checks that the profile can be enforced.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("limiter name is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%s: concurrency must be at least 1, got %d", c.Name, c.Concurrency)
	}
	if c.Points < 1 {
		return fmt.Errorf("%s: points must be at least 1, got %d", c.Name, c.Points)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%s: window must be positive, got %v", c.Name, c.Window)
	}
	return nil
}

// Status is a point-in-time view of a limiter.
type Status struct {
	Name            string    `json:"name"`
	ActiveCount     int       `json:"active_count"`
	PendingCount    int       `json:"pending_count"`
	RemainingPoints int       `json:"remaining_points"`
	ResetTime       time.Time `json:"reset_time"`
	Degraded        bool      `json:"degraded,omitempty"`
}

// Limiter composes a FIFO concurrency gate with a points store.
type Limiter struct {
	cfg    Config
	key    string
	sem    *semaphore.Weighted
	store  Store
	logger *slog.Logger

	active  atomic.Int64
	pending atomic.Int64

	now func() time.Time
}

// New creates a limiter over store. The store key is derived from the
// profile name so every process sharing a hosted store shares the window.
func New(cfg Config, store Store, logger *slog.Logger) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:    cfg,
		key:    "limiter:" + cfg.Name,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
		store:  store,
		logger: logger.With("component", "ratelimit", "limiter", cfg.Name),
		now:    time.Now,
	}, nil
}

// Name returns the profile name.
func (l *Limiter) Name() string {
	return l.cfg.Name
}

// Execute waits for a concurrency slot, consumes one point and runs fn.
// When the window is exhausted it fails fast with *ExceededError and fn is
// not called. A cancelled ctx abandons the wait for a slot.
func (l *Limiter) Execute(ctx context.Context, fn func(context.Context) error) error {
	l.pending.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.pending.Add(-1)
	if err != nil {
		return fmt.Errorf("%s: wait for slot: %w", l.cfg.Name, err)
	}

	l.active.Add(1)
	metrics.RateLimitActive.WithLabelValues(l.cfg.Name).Inc()
	defer func() {
		l.active.Add(-1)
		metrics.RateLimitActive.WithLabelValues(l.cfg.Name).Dec()
		l.sem.Release(1)
	}()

	res, err := l.store.Consume(ctx, l.key, l.cfg.Points, l.cfg.Window)
	if err != nil {
		// An unreachable store must not take the product down; the
		// concurrency gate still bounds load.
		l.logger.WarnContext(ctx, "rate limit store unavailable, admitting call", "error", err)
	} else if !res.Allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(l.cfg.Name).Inc()
		retryAfter := res.ResetAt.Sub(l.now())
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.logger.InfoContext(ctx, "rate limit exceeded", "retry_after", retryAfter)
		return &ExceededError{Limiter: l.cfg.Name, RetryAfter: retryAfter}
	}

	return fn(ctx)
}

// Do is Execute for functions that return a value.
func Do[T any](ctx context.Context, l *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Status reports the gate and window state. When the store cannot be read
// it assumes no points remain until a full window from now.
func (l *Limiter) Status(ctx context.Context) Status {
	st := Status{
		Name:         l.cfg.Name,
		ActiveCount:  int(l.active.Load()),
		PendingCount: int(l.pending.Load()),
	}

	res, err := l.store.Peek(ctx, l.key, l.cfg.Points, l.cfg.Window)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit status unavailable", "error", err)
		st.RemainingPoints = 0
		st.ResetTime = l.now().Add(l.cfg.Window)
		st.Degraded = true
		return st
	}

	st.RemainingPoints = res.Remaining
	st.ResetTime = res.ResetAt
	return st
}
