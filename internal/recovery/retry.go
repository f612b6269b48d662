package recovery

import (
	"context"
	"fmt"
	"time"

	"quill/internal/logging"
)

// RetryConfig configures retry behavior for transient failures.
type RetryConfig struct {
	MaxAttempts int           // maximum number of attempts (default: 3)
	BaseDelay   time.Duration // delay before the first retry (default: 2s)
	MaxDelay    time.Duration // cap on the backoff delay (default: 32s)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    32 * time.Second,
	}
}

// BackoffDelay returns the wait before the n-th attempt (1-based):
// min(base * 2^(n-1), cap). Delays are monotonically non-decreasing.
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

// Retry executes fn with exponential backoff until it succeeds, returns a
// non-retryable decision, or attempts are exhausted.
func Retry(ctx context.Context, config RetryConfig, manager *Manager, logger logging.Logger, fn func(ctx context.Context) error) error {
	logger = logging.OrNop(logger)

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded on attempt %d", attempt)
			}
			return nil
		}
		lastErr = err

		decision := manager.Decide(err)
		switch decision.Policy {
		case PolicyRetry, PolicyBackoff:
			// keep going below
		default:
			logger.Debug("attempt %d failed with %s policy, stopping retries", attempt, decision.Policy)
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		delay := BackoffDelay(attempt, config.BaseDelay, config.MaxDelay)
		if decision.RetryAfter > delay {
			delay = decision.RetryAfter
		}
		logger.Debug("attempt %d failed: %v; waiting %v", attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
