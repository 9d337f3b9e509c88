package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

func runCommand(t *testing.T, def toolregistry.Definition, command string) map[string]interface{} {
	t.Helper()
	result, err := def.Handler(context.Background(), map[string]interface{}{"command": command})
	require.NoError(t, err)
	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	return payload
}

func TestSystemCommandSuccess(t *testing.T) {
	def := SystemCommand(0)
	payload := runCommand(t, def, "echo hello")

	assert.Equal(t, "hello\n", payload["stdout"])
	assert.Equal(t, "", payload["stderr"])
	assert.Equal(t, 0, payload["return_code"])
}

func TestSystemCommandNonZeroExit(t *testing.T) {
	def := SystemCommand(0)
	payload := runCommand(t, def, "echo oops >&2; exit 3")

	assert.Equal(t, "oops\n", payload["stderr"])
	assert.Equal(t, 3, payload["return_code"])
}

func TestSystemCommandTimeout(t *testing.T) {
	def := SystemCommand(200 * time.Millisecond)
	payload := runCommand(t, def, "sleep 5")

	assert.Equal(t, "", payload["stdout"])
	assert.Contains(t, payload["stderr"], "timed out")
	assert.Equal(t, -1, payload["return_code"])
}

func TestSystemCommandUnknownBinary(t *testing.T) {
	def := SystemCommand(0)
	payload := runCommand(t, def, "definitely-not-a-real-binary-12345")

	// The shell reports the missing binary through its exit code
	code, ok := payload["return_code"].(int)
	require.True(t, ok)
	assert.NotEqual(t, 0, code)
}
