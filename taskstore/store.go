// Package taskstore persists task records with a retention window.
//
// Each record is one JSON document in a state.StateStore under
// "task.<id>". Reads return whole records or ErrNotFound; updates are
// read-merge-write cycles guarded by the store's revision stamp, so two
// writers on the same id cannot silently lose each other's fields.
package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/courier/core"
	apperrors "github.com/vinayprograms/courier/errors"
	"github.com/vinayprograms/courier/state"
)

// ErrNotFound is returned when a task is absent or has expired.
var ErrNotFound = errors.New("task not found")

const (
	keyPrefix = "task."

	// DefaultTTL is the retention window when none is configured.
	DefaultTTL = time.Hour

	maxUpdateAttempts = 5
)

// Store reads and writes task records.
type Store struct {
	kv  state.StateStore
	ttl time.Duration
	now func() time.Time
}

// New creates a Store over kv. A ttl of 0 selects DefaultTTL.
func New(kv state.StateStore, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl, now: time.Now}
}

// TTL returns the retention window.
func (s *Store) TTL() time.Duration { return s.ttl }

func key(id string) string { return keyPrefix + id }

// Create stores a fresh task in assistant state with iteration 0.
func (s *Store) Create(ctx context.Context, nt NewTask) (string, error) {
	now := s.now().UTC()
	t := &Task{
		ID:               uuid.NewString(),
		UserID:           nt.UserID,
		ChatID:           nt.ChatID,
		Channel:          nt.Channel,
		MessageID:        nt.MessageID,
		Text:             nt.Text,
		Reasoning:        nt.Reasoning,
		Stream:           nt.Stream,
		State:            core.StageAssistant,
		Iteration:        0,
		ToolResults:      []core.ToolResult{},
		PendingToolCalls: []core.ToolCall{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if _, err := s.kv.Put(ctx, key(t.ID), data, s.ttl); err != nil {
		return "", fmt.Errorf("store task: %w", err)
	}
	return t.ID, nil
}

// Get returns the full record for id.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	t, _, err := s.load(ctx, id)
	return t, err
}

func (s *Store) load(ctx context.Context, id string) (*Task, uint64, error) {
	if id == "" {
		return nil, 0, ErrNotFound
	}
	e, err := s.kv.Get(ctx, key(id))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("load task %s: %w", id, err)
	}

	var t Task
	if err := json.Unmarshal(e.Value, &t); err != nil {
		return nil, 0, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, e.Revision, nil
}

// Update merges p into the record and refreshes updated_at and expiry.
// Updating an absent task is a no-op and returns (false, nil).
func (s *Store) Update(ctx context.Context, id string, p Patch) (bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		t, rev, err := s.load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}

		p.apply(t)
		t.UpdatedAt = s.now().UTC()

		data, err := json.Marshal(t)
		if err != nil {
			return false, fmt.Errorf("encode task: %w", err)
		}

		_, err = s.kv.Update(ctx, key(id), data, rev, s.ttl)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, state.ErrRevisionMismatch):
			continue
		case errors.Is(err, state.ErrNotFound):
			return false, nil
		default:
			return false, apperrors.WrapWithCode(err, apperrors.ErrCodeUnavailable, "update task "+id, apperrors.WithTaskID(id))
		}
	}
	return false, apperrors.WrapWithCode(state.ErrRevisionMismatch, apperrors.ErrCodeInternal,
		fmt.Sprintf("update task %s: gave up after %d attempts", id, maxUpdateAttempts), apperrors.WithTaskID(id))
}

// Delete removes a task before its retention window ends.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, key(id))
}

// List returns the ids of live tasks.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefix))
	}
	return ids, nil
}
