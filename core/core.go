// Package core holds the data model shared by the task store, the agents
// and the skills: stage names, tool calls, and tool outcomes with their
// delivery markers.
package core

// Stage names an agent in the orchestration state machine.
type Stage string

const (
	StageAssistant Stage = "assistant"
	StageTool      Stage = "tool"
)

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s == StageAssistant || s == StageTool
}

func (s Stage) String() string { return string(s) }

// ToolCall is a model-requested skill invocation.
type ToolCall struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// ToolResult pairs a tool call with the outcome of running it.
type ToolResult struct {
	CallID string                 `json:"call_id,omitempty"`
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
	Result Outcome                `json:"result"`
}

// Outcome is the result of one skill run.
// A nil Marker means a plain result.
type Outcome struct {
	OK     bool
	Output string
	Error  string
	Marker Marker
}

// Text renders the outcome for a language model.
func (o Outcome) Text() string {
	if o.OK {
		return o.Output
	}
	if o.Output != "" {
		return "error: " + o.Error + "\n" + o.Output
	}
	return "error: " + o.Error
}

// Succeeded returns a plain successful outcome.
func Succeeded(output string) Outcome {
	return Outcome{OK: true, Output: output}
}

// Failed returns a failed outcome.
func Failed(msg string) Outcome {
	return Outcome{OK: false, Error: msg}
}
