package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Limiter hands out tokens per named resource.
type Limiter interface {
	// Acquire blocks until a token is available or ctx ends.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire takes a token if one is available now.
	TryAcquire(resource string) bool

	// SetCapacity allows capacity tokens per window. A non-positive
	// capacity or window removes the limit.
	SetCapacity(resource string, capacity int, window time.Duration)

	// Reduce lowers the capacity after the upstream pushed back.
	Reduce(resource, reason string)

	// Capacity reports the bucket state, or nil for unknown resources.
	Capacity(resource string) *Capacity

	Close() error
}

// Capacity describes one bucket.
type Capacity struct {
	Resource  string
	Available int
	Total     int
	Window    time.Duration
}

// CapacityUpdate is broadcast when a process reduces a resource.
type CapacityUpdate struct {
	Resource    string    `json:"resource"`
	Origin      string    `json:"origin"`
	NewCapacity int       `json:"new_capacity"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}
