// Package queue defines retry policies for the named job queues.
package queue

import (
	"time"

	"github.com/spec-kit/request-service/internal/domain"
)

// RetryPolicy bounds attempts and paces retries for one queue.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Backoff returns the delay before the given retry. The delay doubles per
// attempt, so next-eligible-run times strictly increase.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

// Policies maps queue names to their retry policies.
type Policies map[string]RetryPolicy

// DefaultPolicies returns the per-queue retry tuning: email retries quickly,
// exports and backups back off in minutes.
func DefaultPolicies() Policies {
	return Policies{
		domain.QueueEmail:       {MaxAttempts: 3, BaseBackoff: time.Minute},
		domain.QueueAnalytics:   {MaxAttempts: 3, BaseBackoff: time.Minute},
		domain.QueueExports:     {MaxAttempts: 2, BaseBackoff: 5 * time.Minute},
		domain.QueueBackup:      {MaxAttempts: 2, BaseBackoff: 5 * time.Minute},
		domain.QueueMaintenance: {MaxAttempts: 3, BaseBackoff: 30 * time.Second},
	}
}

// For returns the policy for a queue, with a conservative fallback for
// unknown queues.
func (p Policies) For(queueName string) RetryPolicy {
	if policy, ok := p[queueName]; ok {
		return policy
	}
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Minute}
}

// Names lists every configured queue.
func (p Policies) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	return names
}
