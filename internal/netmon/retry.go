package netmon

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrNetworkUnavailable is the terminal error surfaced when a network-bound
// operation exhausts its retries without reaching the backend.
var ErrNetworkUnavailable = errors.New("netmon: network unavailable")

// RetryOptions controls the generic backoff wrapper.
type RetryOptions struct {
	// Attempts after the first failure
	MaxRetries int

	// Delay before the first retry; doubles each attempt
	BaseDelay time.Duration

	// When set, network state is re-checked before each retry and attempts
	// are skipped while the backend is unreachable
	RequiresNetwork bool
}

// WithRetry runs op with exponential backoff plus jitter. Each retry waits
// BaseDelay * 2^attempt, spread by up to 50% jitter so synchronized clients
// do not stampede a recovering backend. Exhausting retries returns the last
// error, wrapped as ErrNetworkUnavailable when the network never came back.
func (m *Monitor) WithRetry(ctx context.Context, op func(context.Context) error, opts RetryOptions) error {
	var lastErr error
	networkBlocked := false

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(opts.BaseDelay, attempt-1)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if opts.RequiresNetwork {
			if state := m.CheckNow(ctx); !state.Online() {
				networkBlocked = true
				lastErr = fmt.Errorf("%w: status %s", ErrNetworkUnavailable, state.Status)
				continue
			}
			networkBlocked = false
		}

		if err := op(ctx); err != nil {
			lastErr = err
			m.logger.Debug("retryable operation failed",
				"attempt", attempt+1,
				"max_attempts", opts.MaxRetries+1,
				"error", err)
			continue
		}

		return nil
	}

	if networkBlocked {
		return lastErr
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", opts.MaxRetries+1, lastErr)
}

// backoffDelay computes the exponential delay for a retry with up to 50%
// added jitter.
func backoffDelay(base time.Duration, exponent int) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base << uint(exponent)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}
