package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/internal/tracing"
	"github.com/luoluoluo22/ai-assistant/pkg/commandqueue"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
)

// DefaultMaxCycles bounds the plan/execute loop for one request
const DefaultMaxCycles = 10

const planFailureAnswer = "Sorry, I could not reach the language model to handle your request. Please try again in a moment."

// OrchestratorConfig wires the orchestrator's collaborators
type OrchestratorConfig struct {
	Store     *session.Store
	Planner   *Planner
	Executor  *Executor
	Queue     *commandqueue.CommandQueue
	Logger    zerolog.Logger
	MaxCycles int
}

// Orchestrator drives the agent loop for each user message: plan, execute
// one tool, observe, re-plan, until a direct answer or the cycle ceiling.
// Messages for the same session run one at a time; different sessions run
// concurrently.
type Orchestrator struct {
	store     *session.Store
	planner   *Planner
	executor  *Executor
	queue     *commandqueue.CommandQueue
	logger    zerolog.Logger
	maxCycles int
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}

	return &Orchestrator{
		store:     cfg.Store,
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		queue:     cfg.Queue,
		logger:    cfg.Logger,
		maxCycles: cfg.MaxCycles,
	}, nil
}

// HandleMessage processes one user message and returns the final answer.
// Progress events go to the emitter as they happen; opts may override the
// planner's model, temperature and token budget for this request only. The
// request context cancels the run: a cancelled run abandons further steps
// and persists no partial final turn. A request id carried in the context
// makes the call idempotent: a retry within the dedup window replays the
// original answer instead of running the loop again.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, message string, opts *Options, emitter Emitter) (string, error) {
	if err := session.ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if message == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	if emitter == nil {
		emitter = NewTranscript()
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"assistant.agent",
		"agent.run",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	lane := commandqueue.SessionLane(sessionID)
	ran := false
	result, err := o.queue.EnqueueIdempotent(ctx, lane, tracing.GetRequestID(ctx), func(taskCtx context.Context) (interface{}, error) {
		ran = true
		return o.run(taskCtx, sessionID, message, opts, emitter)
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	answer := result.(string)
	if !ran {
		// Replayed from the dedup cache; the loop never ran, so surface the
		// answer to this request's emitter directly.
		emitter.EmitFinal(answer)
	}

	return answer, nil
}

// History returns the persisted turns for a session
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]session.Turn, error) {
	return o.store.HistoryWithContext(ctx, sessionID)
}

// Clear removes a session's history. Clearing twice is fine.
func (o *Orchestrator) Clear(ctx context.Context, sessionID string) error {
	return o.store.ClearWithContext(ctx, sessionID)
}

func (o *Orchestrator) run(ctx context.Context, sessionID, message string, opts *Options, emitter Emitter) (string, error) {
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, o.logger).With().Str("session_id", sessionID).Logger()

	// Prior turns give the planner the conversation context. Loaded before
	// the current message is appended so the prompt does not repeat it.
	history, err := o.store.HistoryWithContext(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load session history, planning without context")
		history = nil
	}

	if err := o.store.AppendWithContext(ctx, sessionID, session.Turn{
		Role:      session.RoleUser,
		Content:   message,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist user turn")
		return "", fmt.Errorf("failed to save user message: %w", err)
	}

	steps := []Step{}
	cycles := 0

	for cycles < o.maxCycles {
		if err := ctx.Err(); err != nil {
			logger.Info().Int("cycles", cycles).Msg("Run cancelled")
			return "", err
		}
		cycles++

		action, err := o.planner.Plan(ctx, history, message, steps, opts)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			// The model is unreachable; apologize instead of failing the
			// request.
			logger.Error().Err(err).Msg("Planning failed")
			return o.finish(ctx, sessionID, planFailureAnswer, cycles, start, emitter, logger)
		}

		if action.Kind == ActionAnswer {
			answer := action.Answer
			if answer == "" || len(steps) > 0 {
				answer, err = o.summarize(ctx, message, steps, action.Answer, opts)
				if err != nil {
					if ctx.Err() != nil {
						return "", ctx.Err()
					}
					logger.Error().Err(err).Msg("Summary failed")
					answer = planFailureAnswer
				}
			}
			return o.finish(ctx, sessionID, answer, cycles, start, emitter, logger)
		}

		call := *action.Tool
		emitter.EmitPlan(call)

		logger.Info().Str("tool", call.Name).Int("cycle", cycles).Msg("Executing tool")
		result := o.executor.Execute(ctx, call)

		if err := ctx.Err(); err != nil {
			return "", err
		}

		emitter.EmitStep(call, result)
		observability.RecordToolAudit(ctx, call.Name, sessionID, result.Status, map[string]interface{}{
			"cycle": cycles,
		})

		if err := o.store.AppendWithContext(ctx, sessionID, session.Turn{
			Role:       session.RoleTool,
			ToolName:   call.Name,
			ToolOutput: result.Output,
			Timestamp:  time.Now().UTC(),
			Metadata:   map[string]interface{}{"status": result.Status},
		}); err != nil {
			logger.Error().Err(err).Msg("Failed to persist tool turn")
			return "", fmt.Errorf("failed to save tool result: %w", err)
		}

		steps = append(steps, Step{Call: call, Result: result})
	}

	// Ceiling reached: force a summary over what we observed
	logger.Info().Int("cycles", cycles).Msg("Cycle ceiling reached, summarizing")
	answer, err := o.summarize(ctx, message, steps, "", opts)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Error().Err(err).Msg("Forced summary failed")
		answer = planFailureAnswer
	}

	return o.finish(ctx, sessionID, answer, cycles, start, emitter, logger)
}

// summarize composes the final answer from observations. A direct answer
// with no executed steps passes through untouched.
func (o *Orchestrator) summarize(ctx context.Context, message string, steps []Step, direct string, opts *Options) (string, error) {
	if len(steps) == 0 && direct != "" {
		return direct, nil
	}
	return o.planner.Summarize(ctx, message, steps, opts)
}

func (o *Orchestrator) finish(ctx context.Context, sessionID, answer string, cycles int, start time.Time, emitter Emitter, logger zerolog.Logger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := o.store.AppendWithContext(ctx, sessionID, session.Turn{
		Role:      session.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant turn")
		return "", fmt.Errorf("failed to save assistant message: %w", err)
	}

	emitter.EmitFinal(answer)
	observability.RecordPlanningCycles(cycles)

	logger.Info().
		Int("cycles", cycles).
		Dur("duration", time.Since(start)).
		Msg("Agent run completed")

	return answer, nil
}
