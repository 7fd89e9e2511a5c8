package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("key not found")
	ErrClosed           = errors.New("store closed")
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidTTL       = errors.New("invalid TTL")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a stored value with its revision.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
	Modified time.Time
}

// StateStore is a key-value store with per-write expiry and revision stamps.
type StateStore interface {
	// Get returns the entry for key, or ErrNotFound if absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put stores value unconditionally. A ttl of 0 means no expiry.
	// Every write resets the expiry clock.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error)

	// Update stores value only if the current revision equals revision.
	// Returns ErrRevisionMismatch when another writer got there first,
	// ErrNotFound when the key is gone.
	Update(ctx context.Context, key string, value []byte, revision uint64, ttl time.Duration) (uint64, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// ValidateKey checks if a key is usable by every backend.
// Keys are dot-separated tokens; NATS subjects forbid spaces and wildcards.
func ValidateKey(key string) error {
	if key == "" || len(key) > 1024 {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " \t*>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	return nil
}

// ValidateTTL checks if a TTL is valid.
func ValidateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return ErrInvalidTTL
	}
	return nil
}
