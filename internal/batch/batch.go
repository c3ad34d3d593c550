// Package batch drives a slice of items through a function with bounded
// concurrency, sequential chunks and per-item error capture.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/besttutor/internal/metrics"
)

// Defaults applied by Process.
const (
	DefaultConcurrency = 5
	DefaultChunkDelay  = 100 * time.Millisecond
)

// Result is the outcome for one input item. Exactly one of Value or Err is
// meaningful; a failed item carries the zero Value.
type Result[T, R any] struct {
	Index int
	Item  T
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[T, R]) OK() bool {
	return r.Err == nil
}

// Options tunes Process.
type Options struct {
	// Concurrency bounds in-flight calls within a chunk. Default 5.
	Concurrency int

	// BatchSize splits the input into chunks processed one after another.
	// Zero means a single chunk holding every item.
	BatchSize int

	// ChunkDelay is the pause between chunks. Zero selects the 100ms
	// default; a negative value disables the pause.
	ChunkDelay time.Duration

	// StopOnError aborts on the first failure and returns it. By default
	// failures are recorded per item and processing continues.
	StopOnError bool

	// OnProgress is called after every item settles with a strictly
	// increasing completed count. Calls are serialized.
	OnProgress func(completed, total int)

	// OnError is called for every failed item. Calls are serialized.
	OnError func(index int, err error)
}

func (o Options) withDefaults(n int) Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.BatchSize <= 0 || o.BatchSize > n {
		o.BatchSize = n
	}
	if o.ChunkDelay == 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	return o
}

// Process runs fn over items and returns one Result per item in input order.
//
// Chunks are strictly sequential: chunk N+1 starts only after every item of
// chunk N has settled. With StopOnError the first failure cancels the
// remaining work and is returned; the results gathered so far are returned
// with it.
func Process[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts Options) ([]Result[T, R], error) {
	results := make([]Result[T, R], len(items))
	if len(items) == 0 {
		return results, nil
	}
	for i := range items {
		results[i] = Result[T, R]{Index: i, Item: items[i]}
	}
	opts = opts.withDefaults(len(items))

	var (
		mu        sync.Mutex
		completed int
	)
	settle := func(i int, err error) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if err != nil {
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			if opts.OnError != nil {
				opts.OnError(i, err)
			}
		} else {
			metrics.BatchItemsTotal.WithLabelValues("succeeded").Inc()
		}
		if opts.OnProgress != nil {
			opts.OnProgress(completed, len(items))
		}
	}

	for start := 0; start < len(items); start += opts.BatchSize {
		if start > 0 && opts.ChunkDelay > 0 {
			if err := sleep(ctx, opts.ChunkDelay); err != nil {
				return results, err
			}
		}

		end := start + opts.BatchSize
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)

		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					results[i].Err = err
					settle(i, err)
					return err
				}

				value, err := fn(gctx, items[i])
				if err != nil {
					results[i].Err = err
					settle(i, err)
					if opts.StopOnError {
						return fmt.Errorf("item %d: %w", i, err)
					}
					return nil
				}
				results[i].Value = value
				settle(i, nil)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return results, err
		}
	}

	return results, nil
}

// Values returns the successful values in input order.
func Values[T, R any](results []Result[T, R]) []R {
	out := make([]R, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// Errors joins every per-item failure, or returns nil when all succeeded.
func Errors[T, R any](results []Result[T, R]) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", r.Index, r.Err))
		}
	}
	return errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
