package agent

// TaskCompleteTool is the pseudo-tool the model returns when it considers
// the task finished. It is never executed.
const TaskCompleteTool = "task_complete"

// ToolCall is a single tool invocation chosen by the planner
type ToolCall struct {
	Name       string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Result statuses. The strings appear in persisted turn metadata and on
// the WebSocket feed, so they are part of the wire surface.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolResult is the observed outcome of one tool invocation. Failures are
// data, not errors: the loop records them and keeps going.
type ToolResult struct {
	Status  string                 `json:"status"`
	Output  string                 `json:"output"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Failed reports whether the invocation produced an error observation
func (r ToolResult) Failed() bool {
	return r.Status == StatusError
}

// Action kinds
const (
	ActionTool   = "tool"
	ActionAnswer = "answer"
)

// Action is one planning decision: either invoke a single tool or answer
// the user directly.
type Action struct {
	Kind   string    `json:"kind"`
	Tool   *ToolCall `json:"tool,omitempty"`
	Answer string    `json:"answer,omitempty"`
}

// ToolAction wraps a tool call as an Action
func ToolAction(call ToolCall) Action {
	return Action{Kind: ActionTool, Tool: &call}
}

// AnswerAction wraps a direct answer as an Action
func AnswerAction(text string) Action {
	return Action{Kind: ActionAnswer, Answer: text}
}

// Step is one executed cycle: the call the planner chose and what came back
type Step struct {
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}

// Options carries per-request completion overrides. Zero-value fields fall
// back to the planner's configured defaults; Temperature is a pointer so an
// explicit 0 survives.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}
