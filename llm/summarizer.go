package llm

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// maxSummaryInput bounds how much of a document is sent for summarisation.
const maxSummaryInput = 48 * 1024

// Summarizer uses an LLM to produce short summaries of documents.
type Summarizer struct {
	provider Provider
}

// NewSummarizer creates a new summarizer with the given LLM provider.
func NewSummarizer(provider Provider) *Summarizer {
	return &Summarizer{provider: provider}
}

// Summarize condenses content, titled name, into a few sentences that are
// useful for recalling the document later.
func (s *Summarizer) Summarize(ctx context.Context, name, content string) (string, error) {
	if s == nil || s.provider == nil {
		return "", fmt.Errorf("no LLM provider configured for summarization")
	}
	if len(content) > maxSummaryInput {
		content = content[:maxSummaryInput]
		for !utf8.ValidString(content) {
			content = content[:len(content)-1]
		}
	}

	prompt := fmt.Sprintf(`Document %q:
---
%s
---

Summarise this document in at most five sentences. Name the subject, the
key facts or figures, and anything a reader would search for later.
Do not add information that is not in the document.`, name, content)

	resp, err := s.provider.Chat(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("summarization LLM call failed: %w", err)
	}
	return resp.Content, nil
}
