package chain

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy retries RPC reads with a doubling delay.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	// OnRetry is called before each wait. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Do runs fn until it succeeds, the retries are spent, or ctx ends. Context
// errors returned by fn are not retried.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := p.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
