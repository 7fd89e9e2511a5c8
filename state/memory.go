package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// sweepEvery bounds how long expired entries linger before a write
// reclaims them. Reads never return them either way.
const sweepEvery = 30 * time.Second

// MemoryStore keeps entries in a map guarded by one mutex. Expired entries
// are hidden on read and reclaimed by an occasional sweep during writes,
// so the store runs no goroutines.
type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]item
	rev       uint64
	closed    bool
	nextSweep time.Time

	now func() time.Time
}

type item struct {
	value    []byte
	rev      uint64
	modified time.Time
	deadline time.Time // zero: never expires
}

func (it item) live(at time.Time) bool {
	return it.deadline.IsZero() || !at.After(it.deadline)
}

// NewMemoryStore returns an empty store for tests and single-process use.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]item), now: time.Now}
}

// lookup returns the live item for key. Callers hold s.mu.
func (s *MemoryStore) lookup(key string) (item, bool) {
	it, ok := s.items[key]
	if !ok || !it.live(s.now()) {
		return item{}, false
	}
	return it, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	it, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return &Entry{
		Key:      key,
		Value:    append([]byte(nil), it.value...),
		Revision: it.rev,
		Modified: it.modified,
	}, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	return s.write(key, value, ttl, nil)
}

func (s *MemoryStore) Update(_ context.Context, key string, value []byte, revision uint64, ttl time.Duration) (uint64, error) {
	return s.write(key, value, ttl, func(cur item, ok bool) error {
		switch {
		case !ok:
			return ErrNotFound
		case cur.rev != revision:
			return ErrRevisionMismatch
		}
		return nil
	})
}

// write validates, runs the optional precondition against the live item,
// then stores value under a fresh revision.
func (s *MemoryStore) write(key string, value []byte, ttl time.Duration, pre func(item, bool) error) (uint64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if pre != nil {
		cur, ok := s.lookup(key)
		if err := pre(cur, ok); err != nil {
			return 0, err
		}
	}

	now := s.now()
	s.sweep(now)
	s.rev++
	it := item{value: append([]byte(nil), value...), rev: s.rev, modified: now}
	if ttl > 0 {
		it.deadline = now.Add(ttl)
	}
	s.items[key] = it
	return it.rev, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(sweepEvery)
	for k, it := range s.items {
		if !it.live(now) {
			delete(s.items, k)
		}
	}
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.items, key)
	return nil
}

// Keys returns live keys under prefix in lexical order.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.now()
	var out []string
	for k, it := range s.items {
		if strings.HasPrefix(k, prefix) && it.live(now) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close drops all entries. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.items = nil
	return nil
}
