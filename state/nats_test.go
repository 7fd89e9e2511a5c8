//go:build integration

package state

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

func newTestNATSStore(t *testing.T, bucket string) *NATSStore {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	store, err := NewNATSStore(NATSStoreConfig{
		Conn:   conn,
		Bucket: bucket,
		TTL:    time.Minute,
	})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATSStore failed: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		conn.Close()
	})
	return store
}

func TestNATSStore_Get_NotFound(t *testing.T) {
	s := newTestNATSStore(t, "test-get-notfound")

	if _, err := s.Get(ctx, "nonexistent"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNATSStore_PutUpdateGet(t *testing.T) {
	s := newTestNATSStore(t, "test-put-update")

	rev, err := s.Put(ctx, "task.one", []byte("v1"), time.Minute)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := s.Update(ctx, "task.one", []byte("v2"), rev, time.Minute); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if _, err := s.Update(ctx, "task.one", []byte("v3"), rev, time.Minute); !errors.Is(err, ErrRevisionMismatch) {
		t.Errorf("expected ErrRevisionMismatch, got %v", err)
	}

	e, err := s.Get(ctx, "task.one")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(e.Value) != "v2" {
		t.Errorf("expected v2, got %s", e.Value)
	}
}

func TestNATSStore_DeleteAndKeys(t *testing.T) {
	s := newTestNATSStore(t, "test-delete-keys")

	s.Put(ctx, "task.a", []byte("1"), 0)
	s.Put(ctx, "task.b", []byte("1"), 0)
	if err := s.Delete(ctx, "task.a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	keys, err := s.Keys(ctx, "task.")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "task.b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	if _, err := NewNATSStore(NATSStoreConfig{}); err == nil {
		t.Error("expected error for nil connection")
	}
}
