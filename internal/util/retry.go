package util

import (
	"fmt"
	"sync"
	"time"
)

// RetryConfig holds retry configuration for provider calls
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts
	InitialWait time.Duration // Initial wait duration (doubled each retry)
	MaxWait     time.Duration // Maximum wait duration between retries
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 250 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// RetryWithBackoff executes an operation with exponential backoff.
// Returns the operation's result or the final error once attempts are exhausted.
func RetryWithBackoff[T any](cfg *RetryConfig, operation func() (T, error), operationName string) (T, error) {
	var result T
	var err error

	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil {
			if attempt > 1 {
				DebugLog("Retry: %s succeeded on attempt %d/%d", operationName, attempt, cfg.MaxAttempts)
			}
			return result, nil
		}

		if attempt == cfg.MaxAttempts {
			WarnLog("Retry: %s failed after %d attempts: %v", operationName, cfg.MaxAttempts, err)
			return result, fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxAttempts, err)
		}

		DebugLog("Retry: %s failed (attempt %d/%d), retrying in %v: %v",
			operationName, attempt, cfg.MaxAttempts, wait, err)

		time.Sleep(wait)

		wait *= 2
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return result, fmt.Errorf("unexpected retry loop exit: %w", err)
}

// CircuitBreaker suppresses calls for a cooldown window after repeated
// transient failures. Safe for use from multiple goroutines.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     int
	maxFailures  int
	cooldown     time.Duration
	openUntil    time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for the cooldown window.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.now().After(b.openUntil) {
		// Cooldown elapsed, close and reset
		b.openUntil = time.Time{}
		b.failures = 0
		return true
	}
	return false
}

// RecordSuccess resets the failure counter
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts a failure and opens the breaker once the threshold is hit
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = b.now().Add(b.cooldown)
		WarnLog("Circuit breaker open: %d consecutive failures, cooling down for %v", b.failures, b.cooldown)
	}
}
