package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
)

// BleveStore implements Store on a Bleve full-text index (BM25 ranking).
type BleveStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
	now    func() time.Time
}

// BleveStoreConfig configures the Bleve-based memory store.
type BleveStoreConfig struct {
	// Path is the directory holding the index. Empty keeps the index in memory.
	Path string
}

// memoryDocument is the indexed form of a Memory.
type memoryDocument struct {
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Source    string    `json:"source"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBleveStore opens or creates the index.
func NewBleveStore(cfg BleveStoreConfig) (*BleveStore, error) {
	var (
		index bleve.Index
		err   error
	)
	if cfg.Path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory index: %w", err)
		}
		return &BleveStore{index: index, now: time.Now}, nil
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	indexPath := filepath.Join(cfg.Path, "memories.bleve")

	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}
	return &BleveStore{index: index, now: time.Now}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()
	date := bleve.NewDateTimeFieldMapping()

	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("category", keyword)
	doc.AddFieldMappingsAt("source", keyword)
	doc.AddFieldMappingsAt("user_id", keyword)
	doc.AddFieldMappingsAt("created_at", date)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// Remember indexes m and returns its id. A missing ID or timestamp is filled in.
func (s *BleveStore) Remember(ctx context.Context, m Memory) (string, error) {
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

	doc := memoryDocument{
		Content:   m.Content,
		Category:  m.Category,
		Source:    m.Source,
		UserID:    m.UserID,
		CreatedAt: m.CreatedAt,
	}
	if err := s.index.Index(m.ID, doc); err != nil {
		return "", fmt.Errorf("failed to index document: %w", err)
	}
	return m.ID, nil
}

// Recall runs a match query over memory content.
func (s *BleveStore) Recall(ctx context.Context, queryText string, opts RecallOpts) ([]MemoryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}

	match := bleve.NewMatchQuery(queryText)
	match.SetField("content")
	var q query.Query = match
	if opts.UserID != "" {
		user := bleve.NewTermQuery(opts.UserID)
		user.SetField("user_id")
		q = bleve.NewConjunctionQuery(match, user)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var results []MemoryResult
	for _, hit := range res.Hits {
		// BM25 scores are unbounded
		score := float32(hit.Score)
		if score > 1 {
			score = 1 - (1 / (1 + score))
		}
		if score < opts.MinScore {
			continue
		}

		m := Memory{ID: hit.ID}
		m.Content, _ = hit.Fields["content"].(string)
		m.Category, _ = hit.Fields["category"].(string)
		m.Source, _ = hit.Fields["source"].(string)
		m.UserID, _ = hit.Fields["user_id"].(string)
		if ts, ok := hit.Fields["created_at"].(string); ok {
			m.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		results = append(results, MemoryResult{Memory: m, Score: score})
	}
	return results, nil
}

// ConsolidateTurns stores the insights extracted from turns.
func (s *BleveStore) ConsolidateTurns(ctx context.Context, session Session, turns []Turn) error {
	source := sessionSource(session)
	for _, insight := range extractInsights(turns) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.Remember(ctx, Memory{
			Content:  insight,
			Category: CategoryInsight,
			Source:   source,
			UserID:   session.UserID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of indexed memories.
func (s *BleveStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.index.DocCount()
}

// Close closes the index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}
