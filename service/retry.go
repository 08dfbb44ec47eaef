package service

import (
	"context"
	"time"

	"github.com/tieubaoca/paperflow/config"
	"github.com/tieubaoca/paperflow/types"
)

// Backoff is an exponential retry policy: attempt n waits
// min(Cap, Base*2^(n-1)) before the next try.
type Backoff struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

// DefaultBackoff is the policy used for uploads and downloads.
var DefaultBackoff = Backoff{MaxAttempts: 6, Base: time.Second, Cap: 10 * time.Second}

// BackoffFromConfig fills zero fields from DefaultBackoff.
func BackoffFromConfig(c config.RetryConfig) Backoff {
	b := Backoff{MaxAttempts: c.MaxAttempts, Base: c.Base, Cap: c.Cap}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultBackoff.MaxAttempts
	}
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Cap <= 0 {
		b.Cap = DefaultBackoff.Cap
	}
	return b
}

// Delay returns the wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts are used up or ctx is done. onRetry, when set, is called before
// each wait.
func (b Backoff) Retry(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !types.IsRetryable(err) || attempt == attempts {
			return err
		}
		wait := b.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if serr := sleepWithCtx(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}

func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
