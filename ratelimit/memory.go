package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/evolveworks/aiekit/errors"
)

// MemoryConfig configures the in-memory limiter.
type MemoryConfig struct {
	// DefaultCapacity applies to keys without an explicit limit. Zero
	// means unknown keys are unlimited.
	DefaultCapacity int

	// DefaultWindow is the refill period for the default limit.
	DefaultWindow time.Duration
}

// bucket is a token bucket refilled continuously over its window.
type bucket struct {
	capacity   int
	available  float64
	window     time.Duration
	lastRefill time.Time
}

// refill credits tokens for the time elapsed since the last refill.
func (b *bucket) refill(now time.Time) {
	if b.window <= 0 || b.capacity <= 0 {
		return
	}
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.available += float64(b.capacity) * float64(elapsed) / float64(b.window)
	if b.available > float64(b.capacity) {
		b.available = float64(b.capacity)
	}
	b.lastRefill = now
}

// MemoryLimiter is an in-process token bucket Limiter, one bucket per key.
// Safe for concurrent use.
type MemoryLimiter struct {
	cfg MemoryConfig

	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg MemoryConfig) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetLimit configures a key's rate.
func (m *MemoryLimiter) SetLimit(key string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, key)
		return
	}

	if b, ok := m.buckets[key]; ok {
		b.capacity = capacity
		b.window = window
		if b.available > float64(capacity) {
			b.available = float64(capacity)
		}
		return
	}
	m.buckets[key] = &bucket{
		capacity:   capacity,
		available:  float64(capacity),
		window:     window,
		lastRefill: m.nowFunc(),
	}
}

// lookup finds or lazily creates the key's bucket. Returns nil when the key
// is unlimited. Caller holds the lock.
func (m *MemoryLimiter) lookup(key string) *bucket {
	if b, ok := m.buckets[key]; ok {
		return b
	}
	if m.cfg.DefaultCapacity <= 0 || m.cfg.DefaultWindow <= 0 {
		return nil
	}
	b := &bucket{
		capacity:   m.cfg.DefaultCapacity,
		available:  float64(m.cfg.DefaultCapacity),
		window:     m.cfg.DefaultWindow,
		lastRefill: m.nowFunc(),
	}
	m.buckets[key] = b
	return b
}

// Allow consumes one token for the key without blocking.
func (m *MemoryLimiter) Allow(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	b := m.lookup(key)
	if b == nil {
		return true
	}
	b.refill(m.nowFunc())
	if b.available >= 1 {
		b.available--
		return true
	}
	return false
}

// Wait blocks until a token is available for the key or the context ends.
func (m *MemoryLimiter) Wait(ctx context.Context, key string) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return errors.FromCode(errors.ErrCodeClosed)
		}
		b := m.lookup(key)
		if b == nil {
			m.mu.Unlock()
			return nil
		}
		now := m.nowFunc()
		b.refill(now)
		if b.available >= 1 {
			b.available--
			m.mu.Unlock()
			return nil
		}
		// Sleep until roughly one token has accrued.
		wait := time.Duration(float64(b.window) * (1 - b.available) / float64(b.capacity))
		m.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "rate wait abandoned")
		case <-timer.C:
		}
	}
}

// Limit returns the key's current state.
func (m *MemoryLimiter) Limit(key string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.lookup(key)
	if b == nil {
		return nil
	}
	b.refill(m.nowFunc())
	return &Snapshot{
		Key:       key,
		Available: int(b.available),
		Capacity:  b.capacity,
		Window:    b.window,
	}
}

// Forget drops the key's bucket.
func (m *MemoryLimiter) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

// Close releases the limiter.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.FromCode(errors.ErrCodeClosed)
	}
	m.closed = true
	return nil
}

var _ Limiter = (*MemoryLimiter)(nil)
