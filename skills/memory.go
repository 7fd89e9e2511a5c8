package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/memory"
)

// MemorySearch recalls long-term memories of the calling user.
type MemorySearch struct {
	Store memory.Store
}

func (s *MemorySearch) Name() string { return "memory_search" }

func (s *MemorySearch) Description() string {
	return "Search long-term memory for facts and decisions from earlier conversations."
}

func (s *MemorySearch) Parameters() map[string]interface{} {
	return schema([]string{"query"}, map[string]interface{}{
		"query": prop("string", "What to look for"),
		"limit": prop("integer", "Maximum results (default 5)"),
	})
}

func (s *MemorySearch) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	query, err := args.String("query")
	if err != nil {
		return core.Outcome{}, err
	}
	opts := memory.RecallOpts{Limit: args.IntOr("limit", 5)}
	if c, ok := CallerFrom(ctx); ok {
		opts.UserID = c.UserID
	}

	results, err := s.Store.Recall(ctx, query, opts)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("recall failed: %w", err)
	}
	if len(results) == 0 {
		return core.Succeeded("no memories found"), nil
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s] %s (score %.2f)\n", r.Category, r.Content, r.Score)
	}
	return core.Succeeded(strings.TrimRight(b.String(), "\n")), nil
}

// Remember stores an explicit fact for the calling user.
type Remember struct {
	Store memory.Store
}

func (s *Remember) Name() string { return "remember" }

func (s *Remember) Description() string {
	return "Store a fact the user asked to be remembered."
}

func (s *Remember) Parameters() map[string]interface{} {
	return schema([]string{"fact"}, map[string]interface{}{
		"fact": prop("string", "The fact to remember, as a full sentence"),
	})
}

func (s *Remember) Execute(ctx context.Context, args Args) (core.Outcome, error) {
	fact, err := args.String("fact")
	if err != nil {
		return core.Outcome{}, err
	}
	if strings.TrimSpace(fact) == "" {
		return core.Outcome{}, fmt.Errorf("fact is empty")
	}
	m := memory.Memory{Content: fact, Category: memory.CategoryFact, Source: "explicit"}
	if c, ok := CallerFrom(ctx); ok {
		m.UserID = c.UserID
	}
	id, err := s.Store.Remember(ctx, m)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("remember failed: %w", err)
	}
	return core.Succeeded("remembered (" + id + ")"), nil
}
