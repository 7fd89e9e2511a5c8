// Package memory provides long-term conversational memory: facts folded out
// of finished tasks and recalled later by full-text search.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Categories.
const (
	CategoryInsight = "insight"
	CategoryFact    = "fact"
	CategoryTurn    = "turn"

	// CategoryDocument holds the text of files users attached.
	CategoryDocument = "document"
)

// Memory is one stored observation.
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	Source    string    `json:"source"` // "chat:<id>", "task:<id>", "explicit"
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryResult is a memory with its relevance score.
type MemoryResult struct {
	Memory
	Score float32 `json:"score"` // 0-1
}

// RecallOpts configures recall.
type RecallOpts struct {
	Limit    int // default 10
	MinScore float32
	UserID   string // restrict to one user's memories when set
}

// Turn is one message of a finished conversation.
type Turn struct {
	Role    string `json:"role"` // "user" | "assistant" | "tool"
	Content string `json:"content"`
}

// Session identifies the conversation a set of turns came from.
type Session struct {
	UserID string
	ChatID string
	TaskID string
}

// Store is the interface for memory storage.
type Store interface {
	Remember(ctx context.Context, m Memory) (string, error)
	Recall(ctx context.Context, query string, opts RecallOpts) ([]MemoryResult, error)

	// ConsolidateTurns folds the notable parts of a finished conversation
	// into long-term memory.
	ConsolidateTurns(ctx context.Context, session Session, turns []Turn) error

	Close() error
}

const (
	defaultRecallLimit = 10
	minInsightLen      = 50
	maxInsightLen      = 2000
	summaryMinLen      = 100
)

var insightMarkers = []string{
	"decided", "conclusion", "important", "remember",
	"note that", "key insight", "learned that",
	"will use", "should use", "agreed", "prefer",
}

// extractInsights picks the turns worth keeping: those using decision
// language plus the last substantial assistant answer.
func extractInsights(turns []Turn) []string {
	var insights []string
	seen := make(map[string]bool)
	add := func(s string) {
		if len(s) < minInsightLen || seen[s] {
			return
		}
		seen[s] = true
		if len(s) > maxInsightLen {
			s = s[:maxInsightLen] + "..."
		}
		insights = append(insights, s)
	}

	for _, t := range turns {
		if t.Role == "tool" {
			continue
		}
		if containsAny(strings.ToLower(t.Content), insightMarkers) {
			add(t.Content)
		}
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == "assistant" && len(turns[i].Content) > summaryMinLen {
			add(turns[i].Content)
			break
		}
	}
	return insights
}

func sessionSource(s Session) string {
	if s.ChatID != "" {
		return "chat:" + s.ChatID
	}
	return "task:" + s.TaskID
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "it": true, "its": true, "i": true, "we": true,
	"you": true, "he": true, "she": true, "they": true, "them": true, "what": true,
}

// extractKeywords lowercases, strips punctuation and drops stop words and
// words shorter than three letters.
func extractKeywords(text string) []string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,!?:;()[]{}\"'-_/\\", r) {
			return ' '
		}
		return r
	}, text)

	var keywords []string
	seen := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		if len(word) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ErrClosed is returned by a closed store.
var ErrClosed = errors.New("memory: store closed")
