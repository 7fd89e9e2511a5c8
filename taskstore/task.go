package taskstore

import (
	"time"

	"github.com/vinayprograms/courier/core"
)

// Task is the persisted state of one user request.
type Task struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	Channel   string `json:"channel"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Reasoning bool   `json:"reasoning"`
	Stream    bool   `json:"stream"`

	State     core.Stage `json:"state"`
	Iteration int        `json:"iteration"`

	ToolResults      []core.ToolResult `json:"tool_results"`
	PendingToolCalls []core.ToolCall   `json:"pending_tool_calls"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask describes a task to create.
type NewTask struct {
	UserID    string
	ChatID    string
	Channel   string
	MessageID string
	Text      string
	Reasoning bool
	Stream    bool
}

// Patch lists fields to change. Nil fields are left alone.
type Patch struct {
	State            *core.Stage
	Iteration        *int
	Text             *string
	ToolResults      *[]core.ToolResult
	PendingToolCalls *[]core.ToolCall
}

// apply merges p into t.
func (p Patch) apply(t *Task) {
	if p.State != nil {
		t.State = *p.State
	}
	if p.Iteration != nil {
		t.Iteration = *p.Iteration
	}
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.ToolResults != nil {
		t.ToolResults = append([]core.ToolResult{}, (*p.ToolResults)...)
	}
	if p.PendingToolCalls != nil {
		t.PendingToolCalls = append([]core.ToolCall{}, (*p.PendingToolCalls)...)
	}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.State == nil && p.Iteration == nil && p.Text == nil &&
		p.ToolResults == nil && p.PendingToolCalls == nil
}

// Convenience constructors for patch fields.

func StatePtr(s core.Stage) *core.Stage { return &s }
func IntPtr(i int) *int                 { return &i }
func StringPtr(s string) *string        { return &s }

func ResultsPtr(r []core.ToolResult) *[]core.ToolResult { return &r }
func CallsPtr(c []core.ToolCall) *[]core.ToolCall       { return &c }
