// Package tools registers the assistant's built-in tool suite: shell
// commands, email, the knowledge base and the web browser. Tools report
// backend failures as structured data so the agent loop can observe them
// and re-plan.
package tools

import (
	"errors"
	"fmt"
	"time"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

// RegisterAll registers every built-in tool against the registry using
// the given configuration. Unconfigured backends still register; their
// handlers report the missing configuration as tool data.
func RegisterAll(registry *toolregistry.Registry, cfg *config.Config) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	if cfg == nil {
		return errors.New("config is required")
	}

	commandTimeout := time.Duration(cfg.Agent.ToolTimeoutSeconds) * time.Second

	defs := []toolregistry.Definition{
		SystemCommand(commandTimeout),
		NewEmailTool(cfg.Email).Definition(),
		NewKnowledgeBase(cfg.Knowledge).Definition(),
		NewWebBrowser(cfg.Search).Definition(),
	}

	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}
