package ratelimit

import (
	"context"
	"time"
)

// Limiter throttles envelope traffic per key, typically a sender's module ID.
type Limiter interface {
	// Allow consumes one token for the key without blocking. Returns false
	// when the key is out of tokens.
	Allow(key string) bool

	// Wait blocks until a token is available for the key or the context
	// ends. Returns CLOSED after Close.
	Wait(ctx context.Context, key string) error

	// SetLimit configures the key's rate: capacity tokens refilled over
	// window. A non-positive capacity or window removes the key's limit,
	// falling back to the default.
	SetLimit(key string, capacity int, window time.Duration)

	// Limit returns the key's current state, nil when the key has no limit
	// and no default applies.
	Limit(key string) *Snapshot

	// Forget drops the key's bucket and any per-key limit.
	Forget(key string)

	// Close releases the limiter and wakes all waiters.
	Close() error
}

// Snapshot describes one key's rate state.
type Snapshot struct {
	// Key the limit applies to.
	Key string

	// Available tokens right now.
	Available int

	// Capacity is the token count refilled per window.
	Capacity int

	// Window is the refill period.
	Window time.Duration
}
