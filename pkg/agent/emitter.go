package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
)

// Emitter receives agent progress events in order. Implementations must have
// durably accepted an event before returning so a consumer never observes a
// step before its plan.
type Emitter interface {
	EmitPlan(call ToolCall)
	EmitStep(call ToolCall, result ToolResult)
	EmitFinal(answer string)
	EmitError(message string)
}

// RenderPlan formats the plan block for a tool call
func RenderPlan(call ToolCall) string {
	params, err := json.MarshalIndent(call.Parameters, "", "  ")
	if err != nil {
		params = []byte("{}")
	}

	return fmt.Sprintf("\n🔧 Running tool: %s\n📝 Parameters:\n```json\n%s\n```\n", call.Name, params)
}

// RenderStep formats the observation block for a completed step
func RenderStep(call ToolCall, result ToolResult) string {
	if result.Failed() {
		return fmt.Sprintf("\n❌ Error:\n%s\n", result.Output)
	}

	output := result.Output
	if strings.TrimSpace(output) == "" {
		output = "(no output)"
	}

	return fmt.Sprintf("\n✅ Result:\n%s\n", output)
}

// RenderFinal formats the final answer block
func RenderFinal(answer string) string {
	return fmt.Sprintf("\n%s\n", answer)
}

// RenderError formats a run-level error block
func RenderError(message string) string {
	return fmt.Sprintf("\n❌ Error:\n%s\n", message)
}

// Transcript accumulates rendered events for the non-streaming path. It is
// not safe for concurrent use; the orchestrator emits from a single
// goroutine.
type Transcript struct {
	blocks []string
	final  string
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) EmitPlan(call ToolCall) {
	observability.RecordStreamEvent("plan")
	t.blocks = append(t.blocks, RenderPlan(call))
}

func (t *Transcript) EmitStep(call ToolCall, result ToolResult) {
	observability.RecordStreamEvent("step")
	t.blocks = append(t.blocks, RenderStep(call, result))
}

func (t *Transcript) EmitFinal(answer string) {
	observability.RecordStreamEvent("final")
	t.final = answer
	t.blocks = append(t.blocks, RenderFinal(answer))
}

func (t *Transcript) EmitError(message string) {
	observability.RecordStreamEvent("error")
	t.blocks = append(t.blocks, RenderError(message))
}

// Final returns the final answer text, without block framing
func (t *Transcript) Final() string {
	return t.final
}

// String returns the full rendered transcript
func (t *Transcript) String() string {
	return strings.Join(t.blocks, "")
}
