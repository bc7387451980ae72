// Package ratelimit provides the leaky-bucket limiter that bounds how many
// operations the sync manager may have outbound per unit time.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config defines bucket capacity and refill cadence.
type Config struct {
	// Maximum tokens the bucket holds; bounds burst size
	Capacity int `toml:"capacity"`

	// Tokens added per refill tick
	RefillAmount int `toml:"refill_amount"`

	// How often the refill tick fires
	RefillInterval time.Duration `toml:"refill_interval"`
}

// DefaultConfig returns the engine's default dispatch bound: bursts of 20,
// sustained 5 operations per second.
func DefaultConfig() Config {
	return Config{
		Capacity:       20,
		RefillAmount:   1,
		RefillInterval: 200 * time.Millisecond,
	}
}

// Validate checks config invariants and returns error if invalid
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("Capacity must be positive, got %d", c.Capacity)
	}

	if c.RefillAmount <= 0 {
		return fmt.Errorf("RefillAmount must be positive, got %d", c.RefillAmount)
	}

	if c.RefillInterval <= 0 {
		return fmt.Errorf("RefillInterval must be positive, got %v", c.RefillInterval)
	}

	return nil
}

// Bucket is a leaky-bucket token counter. The token count is shared between
// the refill ticker and the batch-acquire path, so every access goes through
// the mutex. Tokens are consumed when a batch is selected, not when it
// completes; a failed dispatch does not refund its token early.
type Bucket struct {
	mu     sync.Mutex
	config Config
	tokens int
}

// NewBucket creates a bucket that starts full.
func NewBucket(config Config) *Bucket {
	return &Bucket{
		config: config,
		tokens: config.Capacity,
	}
}

// Run refills the bucket on the configured cadence until ctx is cancelled.
// Started by the composition root alongside the sync manager's loop.
func (b *Bucket) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Refill()
		}
	}
}

// Refill adds one refill increment up to capacity.
func (b *Bucket) Refill() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += b.config.RefillAmount
	if b.tokens > b.config.Capacity {
		b.tokens = b.config.Capacity
	}
}

// TryAcquire consumes exactly n tokens, or none.
func (b *Bucket) TryAcquire(n int) bool {
	if n <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tokens < n {
		return false
	}

	b.tokens -= n
	return true
}

// Acquire consumes up to max tokens and returns how many it got. Partial
// grants let the manager dispatch what the budget permits and leave the rest
// of the batch scheduled.
func (b *Bucket) Acquire(max int) int {
	if max <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := max
	if b.tokens < n {
		n = b.tokens
	}

	b.tokens -= n
	return n
}

// Available returns the current token count.
func (b *Bucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
