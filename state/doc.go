// Package state provides the key-value backend for task records.
//
// The StateStore interface offers TTL-bounded storage with revision stamps,
// so writers can perform optimistic read-modify-write cycles. Backends:
//
//   - NATSStore: NATS JetStream KV (production, shared between processes)
//   - MemoryStore: in-process map with a cleanup ticker (tests, single node)
//
// # Usage
//
//	store := state.NewMemoryStore()
//	rev, _ := store.Put(ctx, "task.abc", data, time.Hour)
//	_, err := store.Update(ctx, "task.abc", newData, rev, time.Hour)
//	if errors.Is(err, state.ErrRevisionMismatch) {
//	    // reload and retry
//	}
package state
