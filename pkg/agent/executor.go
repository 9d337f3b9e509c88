package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

// Executor runs planned tool calls against the registry. It never returns
// an error: failures become error-status observations so the loop can show
// them to the model and keep going.
type Executor struct {
	registry *toolregistry.Registry
}

// NewExecutor creates an executor over a registry
func NewExecutor(registry *toolregistry.Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute invokes one tool call and converts the outcome to a ToolResult
func (e *Executor) Execute(ctx context.Context, call ToolCall) ToolResult {
	output, err := e.registry.Invoke(ctx, call.Name, call.Parameters)
	if err != nil {
		return errorResult(call, err)
	}

	return successResult(output)
}

func errorResult(call ToolCall, err error) ToolResult {
	var message string

	var execErr *toolregistry.ExecutionError
	switch {
	case errors.Is(err, toolregistry.ErrUnknownTool):
		message = fmt.Sprintf("Tool %q does not exist. Use one of the listed tools.", call.Name)
	case errors.Is(err, toolregistry.ErrInvalidParameters):
		message = fmt.Sprintf("Invalid parameters for %q: %v", call.Name, err)
	case errors.As(err, &execErr):
		message = fmt.Sprintf("Tool %q failed: %v", call.Name, execErr.Err)
	default:
		message = fmt.Sprintf("Tool %q failed: %v", call.Name, err)
	}

	log.Warn().Str("tool", call.Name).Err(err).Msg("Tool call produced an error observation")

	return ToolResult{Status: StatusError, Output: message}
}

// successResult renders the handler payload to text for the observation
// prompt and keeps the structured form when there is one.
func successResult(output interface{}) ToolResult {
	result := ToolResult{Status: StatusSuccess}

	switch v := output.(type) {
	case nil:
		result.Output = ""
	case string:
		result.Output = v
	case map[string]interface{}:
		result.Payload = v
		result.Output = renderJSON(v)
	default:
		result.Output = renderJSON(v)
	}

	return result
}

func renderJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
