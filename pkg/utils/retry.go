package utils

import (
	"context"
	"time"
)

const readRetryBackoff = 50 * time.Millisecond

// RetryRead runs fn and retries it exactly once after a short backoff when
// retryable reports the error as transient. Only idempotent reads go through
// here; mutations are never retried automatically.
func RetryRead(ctx context.Context, fn func(context.Context) error, retryable func(error) bool) error {
	err := fn(ctx)
	if err == nil || !retryable(err) {
		return err
	}
	select {
	case <-time.After(readRetryBackoff):
	case <-ctx.Done():
		return err
	}
	return fn(ctx)
}
