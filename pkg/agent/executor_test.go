package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

func newTestRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	reg := toolregistry.New()

	require.NoError(t, reg.Register(toolregistry.Definition{
		Name:        "echo",
		Description: "Echo text",
		Parameters: []toolregistry.Parameter{
			{Name: "text", Type: "string", Description: "text", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	}))

	require.NoError(t, reg.Register(toolregistry.Definition{
		Name:        "structured",
		Description: "Returns a map payload",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"stdout": "hi", "return_code": 0}, nil
		},
	}))

	require.NoError(t, reg.Register(toolregistry.Definition{
		Name:        "failing",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("disk on fire")
		},
	}))

	return reg
}

func TestExecuteSuccess(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t))

	result := exec.Execute(context.Background(), ToolCall{
		Name:       "echo",
		Parameters: map[string]interface{}{"text": "hello"},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "hello", result.Output)
	assert.False(t, result.Failed())
}

func TestExecuteStructuredPayload(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t))

	result := exec.Execute(context.Background(), ToolCall{Name: "structured"})

	assert.Equal(t, StatusSuccess, result.Status)
	require.NotNil(t, result.Payload)
	assert.Equal(t, "hi", result.Payload["stdout"])
	assert.Contains(t, result.Output, "return_code")
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t))

	result := exec.Execute(context.Background(), ToolCall{Name: "nope"})

	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "nope")
	assert.Contains(t, result.Output, "does not exist")
}

func TestExecuteInvalidParameters(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t))

	t.Run("missing required", func(t *testing.T) {
		result := exec.Execute(context.Background(), ToolCall{Name: "echo"})
		assert.True(t, result.Failed())
		assert.Contains(t, result.Output, "Invalid parameters")
	})

	t.Run("undeclared parameter", func(t *testing.T) {
		result := exec.Execute(context.Background(), ToolCall{
			Name:       "echo",
			Parameters: map[string]interface{}{"text": "x", "bogus": 1},
		})
		assert.True(t, result.Failed())
	})
}

func TestExecuteHandlerFailure(t *testing.T) {
	exec := NewExecutor(newTestRegistry(t))

	result := exec.Execute(context.Background(), ToolCall{Name: "failing"})

	assert.True(t, result.Failed())
	assert.Contains(t, result.Output, "disk on fire")
}
