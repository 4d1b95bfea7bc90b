package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryOptions bounds the Retry Executor
type RetryOptions struct {
	MaxRetries int           // extra attempts after the first one
	BaseDelay  time.Duration // wait after the first failure
	MaxDelay   time.Duration // cap for a single wait, 0 = uncapped
}

// DefaultRetryOptions returns 3 retries waiting 1s, 2s, 4s
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Delay returns the wait before retry number attempt+1
func (o RetryOptions) Delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := o.BaseDelay * time.Duration(1<<uint(attempt)) // 1s, 2s, 4s, 8s
	if o.MaxDelay > 0 && (d > o.MaxDelay || d <= 0) {
		d = o.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WithRetry runs op until it succeeds, returns a permanent error, the
// context ends, or MaxRetries extra attempts are used up. The label only
// appears in logs and the returned error.
func WithRetry[T any](ctx context.Context, logger *zap.Logger, label string, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%s: %w (last error: %v)", label, err, lastErr)
			}
			return zero, fmt.Errorf("%s: %w", label, err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.String("op", label), zap.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) {
			logger.Warn("permanent failure, not retrying", zap.String("op", label), zap.Error(err))
			return zero, fmt.Errorf("%s: %w", label, err)
		}
		if attempt == opts.MaxRetries {
			break
		}

		delay := opts.Delay(attempt)
		logger.Warn("attempt failed, retrying",
			zap.String("op", label),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", opts.MaxRetries+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: %w (last error: %v)", label, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, opts.MaxRetries+1, lastErr)
}
