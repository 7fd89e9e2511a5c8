package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	capacity   int
	available  float64
	window     time.Duration
	lastRefill time.Time
}

func (b *bucket) refill(now time.Time) {
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

// untilNext is how long until one whole token is available.
func (b *bucket) untilNext() time.Duration {
	missing := 1 - b.available
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing * float64(b.window) / float64(b.capacity))
}

// MemoryLimiter is a token bucket per resource, refilled continuously.
// Buckets start full.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		closed:  make(chan struct{}),
		now:     time.Now,
	}
}

// SetCapacity implements Limiter.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}
	now := m.now()
	if b, ok := m.buckets[resource]; ok {
		b.refill(now)
		b.capacity = capacity
		b.window = window
		if b.available > float64(capacity) {
			b.available = float64(capacity)
		}
		return
	}
	m.buckets[resource] = &bucket{capacity: capacity, available: float64(capacity), window: window, lastRefill: now}
}

// Capacity implements Limiter.
func (m *MemoryLimiter) Capacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(m.now())
	return &Capacity{Resource: resource, Available: int(b.available), Total: b.capacity, Window: b.window}
}

// take returns zero on success, otherwise how long to wait.
func (m *MemoryLimiter) take(resource string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.closed:
		return 0, ErrClosed
	default:
	}
	b, ok := m.buckets[resource]
	if !ok {
		return 0, ErrResourceUnknown
	}
	b.refill(m.now())
	if b.available >= 1 {
		b.available--
		return 0, nil
	}
	return b.untilNext(), nil
}

// Acquire implements Limiter.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		wait, err := m.take(resource)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		// capacity may change while waiting, so wake up at least once a second
		if wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.closed:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}
}

// TryAcquire implements Limiter.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	wait, err := m.take(resource)
	return err == nil && wait == 0
}

// Reduce cuts the capacity by a quarter, never below one.
func (m *MemoryLimiter) Reduce(resource, _ string) {
	m.mu.Lock()
	b, ok := m.buckets[resource]
	if !ok {
		m.mu.Unlock()
		return
	}
	capacity, window := reduced(b.capacity, 0.75), b.window
	m.mu.Unlock()
	m.SetCapacity(resource, capacity, window)
}

// Close wakes every waiter with ErrClosed.
func (m *MemoryLimiter) Close() error {
	m.once.Do(func() { close(m.closed) })
	return nil
}

func reduced(capacity int, factor float64) int {
	n := int(float64(capacity) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

var _ Limiter = (*MemoryLimiter)(nil)
