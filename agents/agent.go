// Package agents holds the stage handlers the orchestrator dispatches to.
//
// An Agent handles exactly one stage of a task and keeps no state between
// calls: everything it needs arrives in a Context, and everything it
// decides leaves in a Result. The Registry maps stage names to agents and
// turns unknown names and panics into failure results.
package agents

import (
	"context"

	"github.com/vinayprograms/courier/core"
)

// Context is the per-call view of a task handed to an agent.
type Context struct {
	TaskID    string
	UserID    string
	ChatID    string
	Channel   string
	Text      string
	Reasoning bool
	Iteration int

	// ToolResults is the accumulated history, oldest first.
	ToolResults []core.ToolResult

	// PendingToolCalls are the calls the tool stage should run.
	PendingToolCalls []core.ToolCall

	// OnToken, when non-nil, receives streamed partial output.
	OnToken func(token string)
}

// Result is what an agent decided.
type Result struct {
	Success bool
	Output  string
	Error   string

	// NextStage is empty for a terminal answer.
	NextStage core.Stage

	// ToolCalls are requested by the assistant stage.
	ToolCalls []core.ToolCall

	// ToolResults are produced by the tool stage, in call order.
	ToolResults []core.ToolResult

	Metadata map[string]string
}

// InternalFailure is the text of a failed result whose cause is not for the
// user, such as a recovered panic.
const InternalFailure = "Sorry, something went wrong while handling your message."

// Failure builds a failed result carrying msg.
func Failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Agent handles one stage.
type Agent interface {
	Name() string
	Handle(ctx context.Context, c *Context) Result
}
