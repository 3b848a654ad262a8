// Copyright 2024-2026 Aiku AI

// Package retry holds the bounded fixed-delay reconnect policy.
package retry

import "time"

const (
	DefaultMaxAttempts = 5
	DefaultDelay       = 5 * time.Second
)

// Policy decides whether another connection attempt may be made. There is no
// backoff and no jitter: every retry waits the same Delay.
type Policy struct {
	MaxAttempts int
	Wait        time.Duration
}

// Default returns the policy shared by the initial connect and reconnect paths.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Wait: DefaultDelay}
}

// ShouldRetry reports whether attempt number n is still within budget.
func (p Policy) ShouldRetry(n int) bool {
	return n < p.MaxAttempts
}

// Delay is the fixed wait before the next attempt.
func (p Policy) Delay() time.Duration {
	return p.Wait
}
