package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger
	Clock       Clock
}

// Do executes fn with exponential back-off retry logic. It stops early when
// ctx is cancelled during a back-off sleep.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	clock := r.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < attempts {
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, attempts, lastErr, delay)
			}
			if err := clock.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s interrupted: %w", operationName, err)
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}
