package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-api03-test123", "anthropic", false},
		{"valid openai key", "sk-test123456", "openai", false},
		{"empty key", "", "openai", true},
		{"anthropic key with wrong prefix", "sk-test123", "anthropic", true},
		{"openai key with wrong prefix", "key-test123", "openai", true},
		{"unknown provider accepts any non-empty key", "whatever", "custom", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0))
	assert.NoError(t, v.ValidateTemperature(0.7))
	assert.NoError(t, v.ValidateTemperature(1))
	assert.Error(t, v.ValidateTemperature(-0.1))
	assert.Error(t, v.ValidateTemperature(1.5))
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(-1))
	assert.Error(t, v.ValidateMaxTokens(300000))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
	assert.Error(t, v.ValidateLogLevel(""))
}

func TestValidateCronSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateCronSchedule(""))
	assert.NoError(t, v.ValidateCronSchedule("0 3 * * *"))
	assert.NoError(t, v.ValidateCronSchedule("@daily"))
	assert.Error(t, v.ValidateCronSchedule("0 3 * *"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("clean config has no errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AI.Profiles = []AIProfile{
			{ID: "main", Provider: "openai", APIKey: "sk-test123", Priority: 1},
		}

		errs := v.ValidateConfig(cfg)
		assert.Empty(t, errs)
	})

	t.Run("collects multiple errors", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AI.Profiles = []AIProfile{
			{ID: "main", Provider: "anthropic", APIKey: "bad-key", Priority: 1},
		}
		cfg.Agent.Temperature = 2.0
		cfg.Logging.Level = "verbose"
		cfg.Search.DailyLimit = -1

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})
}
