package syncer

import (
	"context"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/pkg/errors"
)

// RetryPolicy controls how transient fetch failures are retried. Delays
// grow exponentially from BaseDelay and are capped at MaxDelay. Permanent
// failures are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep is swapped out in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Delay returns the backoff before the given attempt (1-based); there is no
// delay before the first attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.BaseDelay << (attempt - 2)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Do runs fn up to MaxAttempts times, backing off between attempts. Only
// transient errors are retried; anything else is returned immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			if sleepErr := p.sleep(ctx, d); sleepErr != nil {
				// A cancel that lands mid-backoff is still an interrupt, not
				// a failure of the operation being retried.
				if ctx.Err() != nil {
					return errcodes.Interrupted()
				}
				return sleepErr
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errcodes.Interrupted()
		}
		if !errcodes.IsTransient(err) {
			return err
		}
	}
	return err
}
