package providers

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

const maxRetryDelay = 10 * time.Second

// withRetry runs fn with exponential backoff plus jitter, retrying only
// transient transport failures. onRetry may be nil.
func withRetry(ctx context.Context, attempts int, delay time.Duration, onRetry func(n uint, err error), fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	jitter := delay / 2
	if jitter <= 0 {
		jitter = time.Millisecond
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
		retry.MaxDelay(maxRetryDelay),
		retry.MaxJitter(jitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return retry.Do(fn, opts...)
}

// isRetryable classifies transport errors. Anything the caller marked
// with retry.Unrecoverable never reaches here.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, ok := IsRateLimitError(err); ok {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return retryableStatus(se.StatusCode)
	}
	// Network-level failures.
	return true
}
