package queue

import (
	"testing"
	"time"

	"github.com/spec-kit/request-service/internal/domain"
)

func TestBackoffStrictlyIncreases(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Second}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		backoff := policy.Backoff(attempt)
		if backoff <= prev {
			t.Fatalf("backoff(%d)=%v not greater than backoff(%d)=%v", attempt, backoff, attempt-1, prev)
		}
		prev = backoff
	}
}

func TestBackoffDoubles(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Minute}
	if got := policy.Backoff(1); got != time.Minute {
		t.Fatalf("backoff(1)=%v want 1m", got)
	}
	if got := policy.Backoff(2); got != 2*time.Minute {
		t.Fatalf("backoff(2)=%v want 2m", got)
	}
	if got := policy.Backoff(3); got != 4*time.Minute {
		t.Fatalf("backoff(3)=%v want 4m", got)
	}
}

func TestBackoffClampsNonPositiveAttempt(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Second}
	if got := policy.Backoff(0); got != time.Second {
		t.Fatalf("backoff(0)=%v want base", got)
	}
}

func TestPoliciesFallback(t *testing.T) {
	policies := DefaultPolicies()
	if policies.For(domain.QueueEmail).MaxAttempts != 3 {
		t.Fatal("email queue should allow 3 attempts")
	}
	fallback := policies.For("unknown")
	if fallback.MaxAttempts <= 0 || fallback.BaseBackoff <= 0 {
		t.Fatalf("fallback policy not sane: %+v", fallback)
	}
}

func TestNamesCoversAllQueues(t *testing.T) {
	names := DefaultPolicies().Names()
	if len(names) != 5 {
		t.Fatalf("expected 5 queues, got %d", len(names))
	}
}
