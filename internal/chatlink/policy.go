package chatlink

import (
	"errors"
	"time"
)

// Reference reconnection parameters.
const (
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 3 * time.Second
)

// ReconnectPolicy is a capped linear retry: a fixed delay between attempts
// and a fixed budget of failed opens. No backoff growth, no jitter.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive failed opens tolerated before
	// automatic reconnection stops. Zero disables automatic reconnection.
	MaxAttempts int

	// Delay is the wait before each automatic attempt.
	Delay time.Duration
}

// DefaultReconnectPolicy returns 3 attempts, 3 seconds apart.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxReconnectAttempts,
		Delay:       DefaultReconnectDelay,
	}
}

// Validate checks the policy parameters.
func (p ReconnectPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("reconnect max attempts cannot be negative")
	}
	if p.MaxAttempts > 0 && p.Delay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	return nil
}

// Next records one more failed open on top of attempts and reports whether
// another automatic attempt should be scheduled. The returned count never
// exceeds MaxAttempts.
func (p ReconnectPolicy) Next(attempts int) (int, bool) {
	if attempts < p.MaxAttempts {
		attempts++
	}
	return attempts, attempts < p.MaxAttempts
}
