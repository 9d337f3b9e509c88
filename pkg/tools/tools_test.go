package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

func TestRegisterAll(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, RegisterAll(registry, config.DefaultConfig()))

	assert.Equal(t, 4, registry.Count())
	for _, name := range []string{"system_command", "email", "knowledge_base", "web_browser"} {
		assert.NotNil(t, registry.Get(name), name)
	}
}

func TestRegisterAllValidation(t *testing.T) {
	assert.Error(t, RegisterAll(nil, config.DefaultConfig()))
	assert.Error(t, RegisterAll(toolregistry.New(), nil))
}

func TestSystemCommandThroughRegistry(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, RegisterAll(registry, config.DefaultConfig()))

	result, err := registry.Invoke(context.Background(), "system_command", map[string]interface{}{
		"command": "printf ok",
	})
	require.NoError(t, err)

	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", payload["stdout"])
	assert.Equal(t, 0, payload["return_code"])
}

func TestRegistryRejectsUndeclaredToolParams(t *testing.T) {
	registry := toolregistry.New()
	require.NoError(t, RegisterAll(registry, config.DefaultConfig()))

	_, err := registry.Invoke(context.Background(), "web_browser", map[string]interface{}{
		"operation": "search",
		"query":     "x",
		"bogus":     true,
	})
	assert.ErrorIs(t, err, toolregistry.ErrInvalidParameters)
}
