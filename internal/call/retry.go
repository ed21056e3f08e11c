package call

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a failed step is attempted. The wait before
// attempt n+1 is n*Backoff.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NoRetry attempts once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Do runs fn until it succeeds, the attempts are used up or ctx is done.
// It returns fn's last error, or ctx's error if ctx ended first.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == attempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * p.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
