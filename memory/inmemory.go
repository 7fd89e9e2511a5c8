package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a process-local Store scored by keyword overlap.
// All data is lost when the process exits.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string]*Memory
	keywords map[string]map[string]bool
	closed   bool
	now      func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories: make(map[string]*Memory),
		keywords: make(map[string]map[string]bool),
		now:      time.Now,
	}
}

// Remember stores m and returns its id.
func (s *InMemoryStore) Remember(ctx context.Context, m Memory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.Category == "" {
		m.Category = CategoryFact
	}

	words := make(map[string]bool)
	for _, w := range extractKeywords(m.Content) {
		words[w] = true
	}
	s.memories[m.ID] = &m
	s.keywords[m.ID] = words
	return m.ID, nil
}

// Recall scores each memory by the fraction of query keywords it contains.
func (s *InMemoryStore) Recall(ctx context.Context, query string, opts RecallOpts) ([]MemoryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	terms := extractKeywords(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var results []MemoryResult
	for id, mem := range s.memories {
		if opts.UserID != "" && mem.UserID != opts.UserID {
			continue
		}
		words := s.keywords[id]
		hits := 0
		for _, t := range terms {
			if words[t] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float32(hits) / float32(len(terms))
		if score < opts.MinScore {
			continue
		}
		results = append(results, MemoryResult{Memory: *mem, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ConsolidateTurns stores the insights extracted from turns.
func (s *InMemoryStore) ConsolidateTurns(ctx context.Context, session Session, turns []Turn) error {
	source := sessionSource(session)
	for _, insight := range extractInsights(turns) {
		if _, err := s.Remember(ctx, Memory{
			Content:  insight,
			Category: CategoryInsight,
			Source:   source,
			UserID:   session.UserID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored memories.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// Close marks the store closed.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
