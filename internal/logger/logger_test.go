package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		lg, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		require.NotNil(t, lg)
		assert.NoError(t, lg.Close())
	})

	t.Run("file output creates log file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "assistant.log")

		lg, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)

		lg.Info().Msg("boot")
		require.NoError(t, lg.Close())

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		lg, err := New(Config{Level: "chatty"})
		require.NoError(t, err)
		defer lg.Close()

		assert.Equal(t, zerolog.InfoLevel, lg.GetZerolog().GetLevel())
	})

	t.Run("redaction masks secrets in the file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "assistant.log")

		lg, err := New(Config{Level: "info", File: logFile, Redaction: true})
		require.NoError(t, err)
		require.NotNil(t, lg.redactor)

		lg.Info().Str("api_key", "sk-abcdefghijklmnopqrstuvwxyz").Msg("configured")
		require.NoError(t, lg.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(content), "sk-abcdefghijklmnopqrstuvwxyz")
		assert.Contains(t, string(content), "[REDACTED]")
	})
}

func TestLoggerLevels(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "assistant.log")

	lg, err := New(Config{Level: "debug", File: logFile})
	require.NoError(t, err)
	defer lg.Close()

	for name, event := range map[string]*zerolog.Event{
		"debug": lg.Debug(),
		"info":  lg.Info(),
		"warn":  lg.Warn(),
		"error": lg.Error(),
	} {
		require.NotNil(t, event, name)
		event.Msg(name)
	}
}

func TestLoggerWith(t *testing.T) {
	lg, err := New(Config{Level: "info"})
	require.NoError(t, err)
	defer lg.Close()

	child := lg.With().Str("component", "gateway").Logger()
	assert.NotNil(t, child)
}

func TestGetZerolog(t *testing.T) {
	lg, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer lg.Close()

	assert.Equal(t, zerolog.WarnLevel, lg.GetZerolog().GetLevel())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
