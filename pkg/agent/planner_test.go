package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/pkg/llm"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
)

// scriptedCompleter returns canned responses in order, recording each request
type scriptedCompleter struct {
	responses []string
	err       error
	requests  []llm.Request
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	idx := len(s.requests) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedCompleter) Provider() string { return "scripted" }

func newTestPlanner(t *testing.T, completer llm.Completer) *Planner {
	t.Helper()
	planner, err := NewPlanner(completer, newTestRegistry(t), PlannerConfig{
		Model:           "test-model",
		Temperature:     0.7,
		KnowledgeWebURL: "https://example.com/kb",
	})
	require.NoError(t, err)
	return planner
}

func TestNewPlannerValidation(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"hi"}}

	_, err := NewPlanner(nil, newTestRegistry(t), PlannerConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewPlanner(completer, nil, PlannerConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewPlanner(completer, newTestRegistry(t), PlannerConfig{})
	assert.Error(t, err)
}

func TestPlanToolAction(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"```json\n{\"tool_name\": \"echo\", \"parameters\": {\"text\": \"hi\"}}\n```",
	}}
	planner := newTestPlanner(t, completer)

	action, err := planner.Plan(context.Background(), nil, "say hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionTool, action.Kind)
	require.NotNil(t, action.Tool)
	assert.Equal(t, "echo", action.Tool.Name)
}

func TestPlanDirectAnswer(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"Hello! Nothing to run."}}
	planner := newTestPlanner(t, completer)

	action, err := planner.Plan(context.Background(), nil, "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, action.Kind)
	assert.Equal(t, "Hello! Nothing to run.", action.Answer)
}

func TestPlanTaskComplete(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		"```json\n{\"tool_name\": \"task_complete\", \"parameters\": {}}\n```",
	}}
	planner := newTestPlanner(t, completer)

	action, err := planner.Plan(context.Background(), nil, "done yet?", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAnswer, action.Kind)
	assert.Empty(t, action.Answer)
}

func TestPlanTransportError(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("connection refused")}
	planner := newTestPlanner(t, completer)

	_, err := planner.Plan(context.Background(), nil, "hi", nil, nil)
	assert.Error(t, err)
}

func TestPlanSystemPromptCarriesCatalogue(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ok"}}
	planner := newTestPlanner(t, completer)

	_, err := planner.Plan(context.Background(), nil, "hi", nil, nil)
	require.NoError(t, err)

	require.Len(t, completer.requests, 1)
	system := completer.requests[0].System
	assert.Contains(t, system, "echo")
	assert.Contains(t, system, "Available tools")
	assert.Contains(t, system, "https://example.com/kb")
}

func TestPlanObservationsFeedNextCycle(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ok"}}
	planner := newTestPlanner(t, completer)

	steps := []Step{{
		Call:   ToolCall{Name: "echo", Parameters: map[string]interface{}{"text": "hi"}},
		Result: ToolResult{Status: StatusSuccess, Output: "hi"},
	}}

	_, err := planner.Plan(context.Background(), nil, "original question", steps, nil)
	require.NoError(t, err)

	prompt := completer.requests[0].Prompt
	assert.Contains(t, prompt, "original question")
	assert.Contains(t, prompt, "Executed tool")
	assert.Contains(t, prompt, "echo")
	assert.Contains(t, prompt, "If the task is complete, answer directly")
}

func TestPlanCarriesConversationHistory(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ok"}}
	planner := newTestPlanner(t, completer)

	history := []session.Turn{
		{Role: session.RoleUser, Content: "My cat is called Whiskers."},
		{Role: session.RoleAssistant, Content: "Nice name!"},
		{Role: session.RoleTool, ToolName: "echo", ToolOutput: "ignored"},
	}

	_, err := planner.Plan(context.Background(), history, "What is my cat called?", nil, nil)
	require.NoError(t, err)

	prompt := completer.requests[0].Prompt
	assert.Contains(t, prompt, "My cat is called Whiskers.")
	assert.Contains(t, prompt, "Nice name!")
	assert.Contains(t, prompt, "What is my cat called?")
	// Tool turns stay out of the conversation block
	assert.NotContains(t, prompt, "ignored")
}

func TestPlanAppliesRequestOverrides(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ok"}}
	planner := newTestPlanner(t, completer)

	temp := 0.1
	opts := &Options{Model: "gpt-4o-mini", Temperature: &temp, MaxTokens: 512}

	_, err := planner.Plan(context.Background(), nil, "hi", nil, opts)
	require.NoError(t, err)

	req := completer.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.1, req.Temperature, 0.001)
	assert.Equal(t, 512, req.MaxTokens)
}

func TestPlanDefaultsWithoutOverrides(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"ok"}}
	planner := newTestPlanner(t, completer)

	_, err := planner.Plan(context.Background(), nil, "hi", nil, nil)
	require.NoError(t, err)

	req := completer.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 0.001)
}

func TestSummarize(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"The command printed hello."}}
	planner := newTestPlanner(t, completer)

	steps := []Step{{
		Call:   ToolCall{Name: "echo", Parameters: map[string]interface{}{"text": "hello"}},
		Result: ToolResult{Status: StatusSuccess, Output: "hello"},
	}}

	answer, err := planner.Summarize(context.Background(), "print hello", steps, nil)
	require.NoError(t, err)
	assert.Equal(t, "The command printed hello.", answer)

	req := completer.requests[0]
	assert.Contains(t, req.Prompt, "print hello")
	assert.Contains(t, req.Prompt, "[echo]")
	assert.InDelta(t, summaryTemperature, req.Temperature, 0.001)
}
