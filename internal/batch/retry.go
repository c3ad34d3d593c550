package batch

import (
	"context"
	"time"
)

// RetryOptions tunes RetryFailed.
type RetryOptions[T any] struct {
	// MaxRetries is how many times a failed item is retried after its
	// first attempt. Zero selects the default of 3; negative disables retries.
	MaxRetries int

	// Delay is the base backoff; attempt n waits Delay * 2^(n-1). Default 1s.
	Delay time.Duration

	// Concurrency and BatchSize are passed through to Process.
	Concurrency int
	BatchSize   int

	// OnRetry fires before each backoff wait. It may be called from several
	// goroutines at once.
	OnRetry func(attempt int, item T, err error)
}

// RetryFailed runs fn over items, retrying each failing item with
// exponential backoff before recording its final outcome. It never aborts
// early: every item ends with either a value or its last error.
func RetryFailed[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts RetryOptions[T]) []Result[T, R] {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	indexed := make([]int, len(items))
	for i := range items {
		indexed[i] = i
	}

	withRetry := func(ctx context.Context, i int) (R, error) {
		var (
			value R
			err   error
		)
		for attempt := 0; ; attempt++ {
			value, err = fn(ctx, items[i])
			if err == nil || attempt >= opts.MaxRetries {
				return value, err
			}

			retry := attempt + 1
			if opts.OnRetry != nil {
				opts.OnRetry(retry, items[i], err)
			}
			if werr := sleep(ctx, opts.Delay*time.Duration(1<<(retry-1))); werr != nil {
				return value, err
			}
		}
	}

	raw, _ := Process(ctx, indexed, withRetry, Options{
		Concurrency: opts.Concurrency,
		BatchSize:   opts.BatchSize,
		ChunkDelay:  -1,
	})

	results := make([]Result[T, R], len(items))
	for i, r := range raw {
		results[i] = Result[T, R]{Index: i, Item: items[i], Value: r.Value, Err: r.Err}
	}
	return results
}
