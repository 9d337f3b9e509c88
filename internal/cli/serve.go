package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luoluoluo22/ai-assistant/internal/config"
	"github.com/luoluoluo22/ai-assistant/internal/logger"
	"github.com/luoluoluo22/ai-assistant/internal/observability"
	"github.com/luoluoluo22/ai-assistant/internal/tracing"
	"github.com/luoluoluo22/ai-assistant/pkg/agent"
	"github.com/luoluoluo22/ai-assistant/pkg/commandqueue"
	"github.com/luoluoluo22/ai-assistant/pkg/gateway"
	"github.com/luoluoluo22/ai-assistant/pkg/llm"
	"github.com/luoluoluo22/ai-assistant/pkg/session"
	"github.com/luoluoluo22/ai-assistant/pkg/toolregistry"
	"github.com/luoluoluo22/ai-assistant/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant HTTP service",
	Long: `Run the assistant HTTP service in the foreground.
The service exposes the chat completion API, session management and a
WebSocket event feed, and shuts down cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		zl.Warn().Err(err).Msg("Audit log unavailable, events go to stderr")
	}
	defer func() { _ = observability.GetAuditLogger().Close() }()
	observability.RecordConfigAudit(cmd.Context(), "service_started", "cli", map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	})

	if err := tracing.InitOpenTelemetry("ai-assistant"); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry init failed, continuing without tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
	}()

	sessionsDir := cfg.Sessions.Dir
	if sessionsDir == "" && cfg.DataDir != "" {
		sessionsDir = filepath.Join(cfg.DataDir, "sessions")
	}
	store, err := session.New(sessionsDir)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	archiver := session.NewArchiver(
		store,
		cfg.Sessions.ArchiveDir,
		time.Duration(cfg.Sessions.ArchiveAfterHrs)*time.Hour,
		cfg.Sessions.ArchiveSchedule,
	)
	if err := archiver.Start(); err != nil {
		return fmt.Errorf("failed to start session archiver: %w", err)
	}
	defer func() { _ = archiver.Stop() }()

	cleanup := session.NewCleanup(store, archiver.ArchiveDir(), 0)
	if err := cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer func() { _ = cleanup.Stop() }()

	registry := toolregistry.New()
	if err := tools.RegisterAll(registry, cfg); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	zl.Info().Int("tools", registry.Count()).Msg("Tool registry ready")

	profiles := make([]llm.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, llm.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}
	pool, err := llm.NewPool(profiles, nil)
	if err != nil {
		return fmt.Errorf("failed to build provider pool: %w", err)
	}

	planner, err := agent.NewPlanner(pool, registry, agent.PlannerConfig{
		Model:           cfg.Agent.Model,
		Temperature:     cfg.Agent.Temperature,
		MaxTokens:       cfg.Agent.MaxTokens,
		PlanTimeout:     time.Duration(cfg.Agent.PlanTimeoutSeconds) * time.Second,
		KnowledgeWebURL: cfg.Knowledge.WebURL,
	})
	if err != nil {
		return fmt.Errorf("failed to build planner: %w", err)
	}

	queue := commandqueue.New()
	defer func() { _ = queue.Close() }()

	orchestrator, err := agent.NewOrchestrator(agent.OrchestratorConfig{
		Store:     store,
		Planner:   planner,
		Executor:  agent.NewExecutor(registry),
		Queue:     queue,
		Logger:    zl,
		MaxCycles: cfg.Agent.MaxCycles,
	})
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Model:       cfg.Agent.Model,
		Agent:       orchestrator,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	zl.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Assistant service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if err := server.Stop(); err != nil {
		zl.Error().Err(err).Msg("Gateway shutdown failed")
		return err
	}

	return nil
}
