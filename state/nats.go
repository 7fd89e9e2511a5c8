package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements StateStore on a NATS JetStream KV bucket.
//
// JetStream expires entries at bucket level: the age of the latest write
// decides expiry. Since every write resets that age, a bucket TTL equal to
// the retention window gives the same behaviour as per-write TTL as long as
// all writers use one TTL. The ttl argument is therefore only validated.
type NATSStore struct {
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// TTL is the bucket-wide entry lifetime (0 = no expiry).
	TTL time.Duration

	// MaxValueSize is the maximum value size in bytes.
	MaxValueSize int32

	// Timeout bounds every KV round trip.
	Timeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "courier-tasks",
		TTL:          time.Hour,
		MaxValueSize: 1024 * 1024,
		Timeout:      5 * time.Second,
	}
}

// NewNATSStore creates (or binds to) the configured KV bucket.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	def := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		TTL:          cfg.TTL,
		History:      1,
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{kv: kv, config: cfg}, nil
}

// begin checks the store is open and bounds the round trip that follows.
func (s *NATSStore) begin(ctx context.Context, key string) (context.Context, context.CancelFunc, error) {
	if key != "" {
		if err := ValidateKey(key); err != nil {
			return nil, nil, err
		}
	}
	if s.closed.Load() {
		return nil, nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	return ctx, cancel, nil
}

// translate maps JetStream KV errors onto the package errors.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jetstream.ErrKeyNotFound), errors.Is(err, jetstream.ErrKeyDeleted):
		return ErrNotFound
	case errors.Is(err, jetstream.ErrKeyExists):
		return ErrRevisionMismatch
	}
	return fmt.Errorf("kv %s: %w", op, err)
}

func (s *NATSStore) Get(ctx context.Context, key string) (*Entry, error) {
	ctx, cancel, err := s.begin(ctx, key)
	if err != nil {
		return nil, err
	}
	defer cancel()

	e, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, translate("get", err)
	}
	// Created is the write time of this revision, not of the key.
	return &Entry{Key: e.Key(), Value: e.Value(), Revision: e.Revision(), Modified: e.Created()}, nil
}

func (s *NATSStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	ctx, cancel, err := s.begin(ctx, key)
	if err != nil {
		return 0, err
	}
	defer cancel()

	rev, err := s.kv.Put(ctx, key, value)
	return rev, translate("put", err)
}

// Update is a compare-and-set on the last revision of key.
func (s *NATSStore) Update(ctx context.Context, key string, value []byte, revision uint64, ttl time.Duration) (uint64, error) {
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	ctx, cancel, err := s.begin(ctx, key)
	if err != nil {
		return 0, err
	}
	defer cancel()

	rev, err := s.kv.Update(ctx, key, value, revision)
	return rev, translate("update", err)
}

// Delete leaves a tombstone; deleting an absent key succeeds.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel, err := s.begin(ctx, key)
	if err != nil {
		return err
	}
	defer cancel()

	if err := translate("delete", s.kv.Delete(ctx, key)); err != nil && err != ErrNotFound {
		return err
	}
	return nil
}

// Keys lists the bucket and filters by prefix client side.
func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel, err := s.begin(ctx, "")
	if err != nil {
		return nil, err
	}
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("list keys", err)
	}
	defer lister.Stop()

	var keys []string
	for k := range lister.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close marks the store closed. The connection belongs to the caller.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}
