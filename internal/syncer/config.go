package syncer

import (
	"fmt"
	"time"
)

// Config defines the sync manager's batching, cadence and retry behavior.
type Config struct {
	// Most operations dispatched per processing pass, before the rate
	// limiter shrinks the batch further
	BatchSize int `toml:"batch_size"`

	// How often the loop checks whether processing should run
	TickInterval time.Duration `toml:"tick_interval"`

	// Base delay for the first retry of a failed operation
	BaseRetryDelay time.Duration `toml:"base_retry_delay"`

	// Per-retry scaling factors applied to BaseRetryDelay; the last entry
	// applies to all further retries
	BackoffMultipliers []int `toml:"backoff_multipliers"`

	// Wake trigger buffer size
	InboxBufferSize int `toml:"inbox_buffer_size"`

	// Terminal failure channel buffer size
	FailureBufferSize int `toml:"failure_buffer_size"`
}

// DefaultConfig returns the engine's default orchestration settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:          25,
		TickInterval:       3 * time.Second,
		BaseRetryDelay:     2 * time.Second,
		BackoffMultipliers: []int{1, 2, 4, 8, 16},
		InboxBufferSize:    16,
		FailureBufferSize:  64,
	}
}

// Validate checks config invariants and returns error if invalid
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be positive, got %d", c.BatchSize)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("TickInterval must be positive, got %v", c.TickInterval)
	}

	if c.BaseRetryDelay <= 0 {
		return fmt.Errorf("BaseRetryDelay must be positive, got %v", c.BaseRetryDelay)
	}

	if len(c.BackoffMultipliers) == 0 {
		return fmt.Errorf("BackoffMultipliers must not be empty")
	}

	for i, m := range c.BackoffMultipliers {
		if m <= 0 {
			return fmt.Errorf("BackoffMultipliers[%d] must be positive, got %d", i, m)
		}
	}

	if c.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", c.InboxBufferSize)
	}

	if c.FailureBufferSize <= 0 {
		return fmt.Errorf("FailureBufferSize must be positive, got %d", c.FailureBufferSize)
	}

	return nil
}

// retryDelay returns the backoff for a record that has now failed
// retryCount times.
func (c Config) retryDelay(retryCount int) time.Duration {
	index := retryCount - 1
	if index < 0 {
		index = 0
	}
	if index >= len(c.BackoffMultipliers) {
		index = len(c.BackoffMultipliers) - 1
	}

	return c.BaseRetryDelay * time.Duration(c.BackoffMultipliers[index])
}
