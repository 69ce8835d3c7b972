package util

import (
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := RetryWithBackoff(fastRetryConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, "test-op")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" || calls != 3 {
		t.Errorf("got result %q after %d calls", result, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(fastRetryConfig(), func() (int, error) {
		calls++
		return 0, errors.New("permanent")
	}, "test-op")

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestCircuitBreakerOpensAndCoolsDown(t *testing.T) {
	clock := time.Now()
	b := NewCircuitBreaker(2, 10*time.Second)
	b.now = func() time.Time { return clock }

	if !b.Allow() {
		t.Fatal("fresh breaker should allow")
	}

	b.RecordFailure()
	if !b.Allow() {
		t.Error("breaker opened below threshold")
	}
	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker should be open after threshold failures")
	}

	clock = clock.Add(11 * time.Second)
	if !b.Allow() {
		t.Error("breaker should close after cooldown")
	}
}

func TestCircuitBreakerResetOnSuccess(t *testing.T) {
	b := NewCircuitBreaker(2, 10*time.Second)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("success should reset the failure count")
	}
}

func TestValidationErrorsAccumulate(t *testing.T) {
	var v ValidationErrors
	if err := v.Err(); err != nil {
		t.Fatalf("empty accumulator returned error: %v", err)
	}

	v.Add("first problem: %s", "a")
	v.Add("second problem: %d", 2)

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("accumulated error should wrap ErrValidation")
	}
	if len(v.Problems) != 2 {
		t.Errorf("expected 2 problems, got %d", len(v.Problems))
	}
}
