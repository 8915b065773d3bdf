package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"weaver/internal/logging"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	MaxAttempts  int           // Maximum number of retry attempts (default: 3)
	BaseDelay    time.Duration // Base delay for exponential backoff (default: 200ms)
	MaxDelay     time.Duration // Maximum delay between retries (default: 5s)
	JitterFactor float64       // Jitter factor for randomization (default: 0.25 = ±25%)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryWithResult executes fn with exponential backoff, stopping on success,
// a non-transient error, or context cancellation.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryWithResultAndLog(ctx, config, fn, nil)
}

// RetryWithResultAndLog is RetryWithResult with an injected logger.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	logger = logging.OrNop(logger)

	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err
		logger.Debug("attempt %d failed: %v", attempt+1, err)

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the delay before the next attempt: exponential in
// the attempt number, jittered, and capped at MaxDelay.
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	base := config.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if config.JitterFactor > 0 {
		jitter := delay * config.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
