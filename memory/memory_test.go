package memory

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

var longDecision = "We decided to use PostgreSQL for the invoices database because it handles JSON well."

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("The user prefers dark-mode, and the USER likes vim!")
	want := []string{"user", "prefers", "dark", "mode", "likes", "vim"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractInsights(t *testing.T) {
	summary := strings.Repeat("a long final answer ", 10)
	turns := []Turn{
		{Role: "user", Content: longDecision},
		{Role: "tool", Content: "we decided nothing, this is tool output that is long enough to count"},
		{Role: "assistant", Content: "ok"},
		{Role: "assistant", Content: summary},
	}
	got := extractInsights(turns)
	if len(got) != 2 {
		t.Fatalf("got %d insights: %v", len(got), got)
	}
	if got[0] != longDecision || got[1] != summary {
		t.Errorf("unexpected insights: %v", got)
	}
}

func TestExtractInsightsTruncates(t *testing.T) {
	huge := "remember " + strings.Repeat("x", 3000)
	got := extractInsights([]Turn{{Role: "user", Content: huge}})
	if len(got) != 1 || len(got[0]) != maxInsightLen+3 {
		t.Fatalf("unexpected truncation: %d", len(got[0]))
	}
}

func TestInMemoryStore_RememberRecall(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	id, err := store.Remember(ctx, Memory{Content: "The user prefers dark mode", UserID: "u1"})
	if err != nil {
		t.Fatalf("remember failed: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty ID")
	}
	store.Remember(ctx, Memory{Content: "PostgreSQL stores invoices", UserID: "u2"})

	results, err := store.Recall(ctx, "dark mode preference", RecallOpts{})
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Category != CategoryFact {
		t.Errorf("category = %q", results[0].Category)
	}

	results, _ = store.Recall(ctx, "invoices", RecallOpts{UserID: "u1"})
	if len(results) != 0 {
		t.Errorf("user filter leaked: %+v", results)
	}
}

func TestInMemoryStore_ConsolidateTurns(t *testing.T) {
	store := NewInMemoryStore()
	err := store.ConsolidateTurns(context.Background(), Session{UserID: "u1", ChatID: "c1"}, []Turn{
		{Role: "user", Content: longDecision},
	})
	if err != nil {
		t.Fatalf("consolidate failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d", store.Len())
	}
	results, _ := store.Recall(context.Background(), "postgresql", RecallOpts{UserID: "u1"})
	if len(results) != 1 || results[0].Source != "chat:c1" || results[0].Category != CategoryInsight {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestInMemoryStore_Closed(t *testing.T) {
	store := NewInMemoryStore()
	store.Close()
	if _, err := store.Remember(context.Background(), Memory{Content: "x"}); err != ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
