package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// nonRetryableCodes are error codes that retrying cannot fix.
var nonRetryableCodes = map[string]bool{
	schema.ErrCodeValidation:        true,
	schema.ErrCodeCanceled:          true,
	schema.ErrCodeInvalidTransition: true,
	schema.ErrCodeCycleDetected:     true,
	schema.ErrCodeNotFound:          true,
	schema.ErrCodeInterpolation:     true,
}

// IsRetryableError classifies whether a task error should be retried.
// Context cancellation means the execution is shutting down and is never
// retried; validation and lookup failures are deterministic and never
// retried either. Everything else defaults to retryable and lets the retry
// policy limit attempts.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is retryable (action-level timeout, not execution-level).
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if code := schema.ErrorCode(err); code != "" && nonRetryableCodes[code] {
		return false
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}

// ComputeBackoff calculates the delay before retry attempt retryCount (1-based):
// min(max_delay, initial_delay × multiplier^(retryCount−1)).
func ComputeBackoff(policy *schema.RetryPolicy, retryCount int) time.Duration {
	if policy == nil || retryCount < 1 {
		return 0
	}

	initial, err := time.ParseDuration(policy.InitialDelay)
	if err != nil || initial <= 0 {
		return 0
	}

	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := time.Duration(float64(initial) * math.Pow(multiplier, float64(retryCount-1)))
	if delay < initial {
		// float overflow on extreme retry counts
		delay = initial
	}

	if policy.MaxDelay != "" {
		if maxDelay, parseErr := time.ParseDuration(policy.MaxDelay); parseErr == nil && maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}

	return delay
}

// ApplyJitter perturbs a delay by ±fraction so tasks retrying in lockstep
// do not resynchronize into a thundering herd.
func ApplyJitter(delay time.Duration, fraction float64) time.Duration {
	if delay <= 0 || fraction <= 0 {
		return delay
	}
	// Uniform in [1-fraction, 1+fraction].
	factor := 1 + fraction*(2*rand.Float64()-1)
	jittered := time.Duration(float64(delay) * factor)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// WaitForBackoff sleeps for the delay or returns early if the context is
// canceled during the wait.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
