// Package llm wraps the chat-completion providers behind a single
// Completer interface and a failover Pool.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Request is a single completion request
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer produces a text completion for a request
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Provider returns the provider name
	Provider() string
}

// Profile holds the credentials and routing for one provider account
type Profile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "openai" or "anthropic"
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url,omitempty"`
	Model    string `json:"model,omitempty"`
	Priority int    `json:"priority"`
}

// NewCompleter creates a provider client for a profile
func NewCompleter(profile Profile) (Completer, error) {
	switch profile.Provider {
	case "openai":
		return NewOpenAI(profile.APIKey, profile.BaseURL), nil
	case "anthropic":
		return NewAnthropic(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// IsRetryableError reports whether a provider error is worth failing over
// to the next profile. Auth and validation errors are permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "ECONNRESET") || strings.Contains(msg, "ETIMEDOUT") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}

	return false
}
