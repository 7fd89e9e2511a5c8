package agents

import (
	"context"
	"fmt"

	"github.com/vinayprograms/courier/core"
	"github.com/vinayprograms/courier/skills"
)

// SkillRunner runs a named skill. *skills.Registry satisfies it.
type SkillRunner interface {
	Run(ctx context.Context, name string, params map[string]interface{}) core.Outcome
}

// Tool is the tool-stage agent: it runs every pending call, in order, and
// hands the results back to the assistant. A failing skill is recorded in
// its result entry; it never fails the stage.
type Tool struct {
	Skills SkillRunner
}

// NewTool creates the tool agent.
func NewTool(runner SkillRunner) *Tool {
	return &Tool{Skills: runner}
}

func (t *Tool) Name() string { return string(core.StageTool) }

// Handle implements Agent.
func (t *Tool) Handle(ctx context.Context, c *Context) Result {
	if len(c.PendingToolCalls) == 0 {
		return Failure("no tool calls to run")
	}

	ctx = skills.WithCaller(ctx, skills.Caller{TaskID: c.TaskID, UserID: c.UserID, ChatID: c.ChatID})

	results := make([]core.ToolResult, 0, len(c.PendingToolCalls))
	failed := 0
	for i, call := range c.PendingToolCalls {
		if err := ctx.Err(); err != nil {
			results = append(results, core.ToolResult{
				CallID: callID(call, c.Iteration, i),
				Tool:   call.Name,
				Params: call.Params,
				Result: core.Failed("canceled: " + err.Error()),
			})
			failed++
			continue
		}

		out := t.Skills.Run(ctx, call.Name, call.Params)
		if !out.OK {
			failed++
		}
		results = append(results, core.ToolResult{
			CallID: callID(call, c.Iteration, i),
			Tool:   call.Name,
			Params: call.Params,
			Result: out,
		})

		// a skill that ends the task makes the remaining calls moot
		if _, ok := out.Marker.(*core.TerminalReply); ok {
			break
		}
	}

	return Result{
		Success:     true,
		Output:      fmt.Sprintf("ran %d tool call(s), %d failed", len(results), failed),
		NextStage:   core.StageAssistant,
		ToolResults: results,
	}
}

func callID(call core.ToolCall, iteration, index int) string {
	if call.ID != "" {
		return call.ID
	}
	return fmt.Sprintf("call_%d_%d", iteration, index)
}
