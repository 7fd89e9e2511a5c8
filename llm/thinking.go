package llm

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ThinkingLevel is the reasoning effort asked of the model.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
	ThinkingAuto   ThinkingLevel = "auto"
)

// ThinkingConfig holds thinking configuration.
type ThinkingConfig struct {
	Level ThinkingLevel `json:"level"` // auto (default), off, low, medium, high

	// BudgetTokens overrides the per-level Anthropic budget; 0 keeps it.
	BudgetTokens int64 `json:"budget_tokens"`
}

// Budget returns the Anthropic thinking budget for l, or 0 when thinking
// is off. A positive override replaces the per-level default.
func (l ThinkingLevel) Budget(override int64) int64 {
	var budget int64
	switch l {
	case ThinkingHigh:
		budget = 16000
	case ThinkingMedium:
		budget = 8000
	case ThinkingLow:
		budget = 4000
	default:
		return 0
	}
	if override > 0 {
		return override
	}
	return budget
}

// ResolveThinkingLevel picks the effort for one request. Off in config
// always wins; a Reasoning request asks for high; auto scores the request.
func ResolveThinkingLevel(cfg ThinkingConfig, req ChatRequest) ThinkingLevel {
	switch {
	case cfg.Level == ThinkingOff:
		return ThinkingOff
	case req.Reasoning:
		return ThinkingHigh
	case cfg.Level == ThinkingAuto || cfg.Level == "":
		return InferThinkingLevel(req.Messages)
	}
	return cfg.Level
}

// cue is a group of phrases that hint at how much reasoning a message
// needs. A group counts once however many of its phrases match.
type cue struct {
	weight  int
	phrases []string
}

var cues = []cue{
	{3, []string{
		"prove", "derive", "root cause", "debug", "why does", "why is",
		"threat model", "security analysis", "trade-off", "tradeoff",
		"system design", "architect", "pros and cons", "compare and contrast",
	}},
	{2, []string{
		"plan", "strategy", "analyze", "analyse", "review", "investigate",
		"implement", "refactor", "optimize", "step by step",
		"explain how", "explain why", "algorithm", "schema", "write a script",
	}},
	{1, []string{
		"how to", "how do i", "should i", "recommend", "difference between",
		"summarize", "summary", "compare", "list", "find",
	}},
}

var (
	fractionRe = regexp.MustCompile(`\d+\s*/\s*\d+`)
	exponentRe = regexp.MustCompile(`\d+\s*(\^|\*\*)\s*\d+`)
	equationRe = regexp.MustCompile(`\d+\s*[+\-*/]\s*\d+\s*(=|[+\-*/]\s*\d+)`)
)

// InferThinkingLevel scores the newest user message without calling a
// model. Earlier turns are ignored; tool rounds already in the
// conversation add weight since the task is evidently not a one-liner.
func InferThinkingLevel(messages []Message) ThinkingLevel {
	text, toolRounds := latestUserTurn(messages)
	score := scoreText(text)
	if toolRounds >= 3 {
		score++
	}
	switch {
	case score >= 3:
		return ThinkingHigh
	case score == 2:
		return ThinkingMedium
	case score == 1:
		return ThinkingLow
	}
	return ThinkingOff
}

// latestUserTurn returns the last user message and how many tool results
// follow it.
func latestUserTurn(messages []Message) (string, int) {
	rounds := 0
	for i := len(messages) - 1; i >= 0; i-- {
		switch messages[i].Role {
		case "tool":
			rounds++
		case "user":
			return messages[i].Content, rounds
		}
	}
	return "", rounds
}

func scoreText(text string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, c := range cues {
		for _, p := range c.phrases {
			if strings.Contains(lower, p) {
				score += c.weight
				break
			}
		}
	}
	if fractionRe.MatchString(text) || exponentRe.MatchString(text) || equationRe.MatchString(text) {
		score += 2
	}
	switch n := utf8.RuneCountInString(text); {
	case n > 3000:
		score += 3
	case n > 1000:
		score += 2
	case n > 300:
		score++
	}
	return score
}
