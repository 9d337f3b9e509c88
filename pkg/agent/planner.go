package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/pkg/llm"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
)

const (
	// DefaultPlanTimeout bounds a single planning completion
	DefaultPlanTimeout = 60 * time.Second

	// summaryTemperature keeps the forced summary deterministic
	summaryTemperature = 0.2
)

// PlannerConfig configures planning completions
type PlannerConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	PlanTimeout time.Duration

	// KnowledgeWebURL is offered to users who want to browse the knowledge
	// base directly. Optional.
	KnowledgeWebURL string
}

// Planner decides the next action for a conversation turn. Each cycle makes
// one completion call and extracts at most one tool call from it.
type Planner struct {
	completer llm.Completer
	registry  *toolregistry.Registry
	cfg       PlannerConfig
}

// NewPlanner creates a planner over a completer and the tool registry
func NewPlanner(completer llm.Completer, registry *toolregistry.Registry, cfg PlannerConfig) (*Planner, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = DefaultPlanTimeout
	}

	return &Planner{
		completer: completer,
		registry:  registry,
		cfg:       cfg,
	}, nil
}

// Plan runs one planning cycle. The prompt carries the conversation so far,
// the current question and every observation from this run; the response is
// parsed into either a single tool call or a direct answer. An unparseable
// response, an empty array, and the task_complete pseudo-tool all mean
// "answer directly".
func (p *Planner) Plan(ctx context.Context, history []session.Turn, userMessage string, steps []Step, opts *Options) (Action, error) {
	prompt := BuildObservationPrompt(history, userMessage, steps)
	system := SystemPrompt(p.registry.Describe(), p.cfg.KnowledgeWebURL)

	temperature := p.cfg.Temperature
	if opts != nil && opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	response, err := p.complete(ctx, system, prompt, temperature, opts)
	if err != nil {
		return Action{}, fmt.Errorf("planning completion failed: %w", err)
	}

	call := ExtractToolCall(response)
	if call == nil {
		log.Debug().Msg("No tool call in response, treating as direct answer")
		return AnswerAction(response), nil
	}
	if call.Name == TaskCompleteTool {
		return AnswerAction(""), nil
	}

	log.Debug().Str("tool", call.Name).Msg("Planned tool call")

	return ToolAction(*call), nil
}

// Summarize produces the final answer from the collected observations. Used
// when the cycle ceiling is reached or a direct answer needs composing from
// tool output. The summary temperature stays fixed so the composition is
// deterministic regardless of request overrides.
func (p *Planner) Summarize(ctx context.Context, userMessage string, steps []Step, opts *Options) (string, error) {
	prompt := BuildSummaryPrompt(userMessage, steps)

	response, err := p.complete(ctx, SummarySystemPrompt(), prompt, summaryTemperature, opts)
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}

	return response, nil
}

func (p *Planner) complete(ctx context.Context, system, prompt string, temperature float64, opts *Options) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.PlanTimeout)
	defer cancel()

	model := p.cfg.Model
	maxTokens := p.cfg.MaxTokens
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}

	start := time.Now()
	response, err := p.completer.Complete(callCtx, llm.Request{
		Model:       model,
		System:      system,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	observability.RecordPlanningCall(time.Since(start))

	return response, err
}
