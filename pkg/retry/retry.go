package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/sajanshree/order-api/pkg/logger"
)

// RetryableFunc defines a function that can be retried
type RetryableFunc func(ctx context.Context) error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// RetryableErrors limits retries to errors matching one of these. Empty means every error is retried
	// unless it is an AppError marked non-retryable.
	RetryableErrors []error
}

// Retry runs fn until it succeeds, the attempts are exhausted, or ctx is done
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	maxAttempts := cfg.MaxAttempts

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	log := cfg.Logger

	if log == nil {
		log = logger.NewNop()
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled by context: %w", err)
		}

		err := fn(ctx)

		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == maxAttempts {
			break
		}

		if !isRetryable(err, cfg.RetryableErrors) {
			log.Warn("Non-retryable error encountered, giving up", "error", err, "attempt", attempt)
			return err
		}

		var backoff time.Duration

		if cfg.BackoffStrategy != nil {
			backoff = cfg.BackoffStrategy.NextBackoff(attempt)
		}

		log.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff)

		if backoff <= 0 {
			continue
		}

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d retry attempts failed, last error: %w", maxAttempts, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	if len(retryableErrors) == 0 {
		var appErr *apperrors.AppError

		if errors.As(err, &appErr) {
			return appErr.Retryable
		}
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}
