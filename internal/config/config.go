package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the assistant service configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Session persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// AI provider profiles
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Mailbox accounts for the email tool
	Email EmailConfig `json:"email" mapstructure:"email"`

	// Knowledge base backend
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`

	// Web search backend
	Search SearchConfig `json:"search" mapstructure:"search"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string   `json:"host" mapstructure:"host"`
	Port        int      `json:"port" mapstructure:"port"`
	APIKey      string   `json:"api_key" mapstructure:"api_key"`
	CORSOrigins []string `json:"cors_origins" mapstructure:"cors_origins"`
}

// AgentConfig holds agent loop configuration
type AgentConfig struct {
	Model              string  `json:"model" mapstructure:"model"`
	Temperature        float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens          int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxCycles          int     `json:"max_cycles" mapstructure:"max_cycles"`
	PlanTimeoutSeconds int     `json:"plan_timeout_seconds" mapstructure:"plan_timeout_seconds"`
	ToolTimeoutSeconds int     `json:"tool_timeout_seconds" mapstructure:"tool_timeout_seconds"`
}

// SessionsConfig holds session store configuration
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	ArchiveDir      string `json:"archive_dir" mapstructure:"archive_dir"`
	ArchiveAfterHrs int    `json:"archive_after_hours" mapstructure:"archive_after_hours"`
	ArchiveSchedule string `json:"archive_schedule" mapstructure:"archive_schedule"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// EmailConfig holds mailbox configuration for the email tool
type EmailConfig struct {
	DefaultType string                  `json:"default_type" mapstructure:"default_type"`
	Accounts    map[string]EmailAccount `json:"accounts" mapstructure:"accounts"`
}

// EmailAccount describes one mailbox provider account
type EmailAccount struct {
	IMAPServer string `json:"imap_server" mapstructure:"imap_server"`
	IMAPPort   int    `json:"imap_port" mapstructure:"imap_port"`
	SMTPServer string `json:"smtp_server" mapstructure:"smtp_server"`
	SMTPPort   int    `json:"smtp_port" mapstructure:"smtp_port"`
	User       string `json:"user" mapstructure:"user"`
	Password   string `json:"password" mapstructure:"password"`
}

// KnowledgeConfig holds knowledge base backend configuration
type KnowledgeConfig struct {
	SupabaseURL string `json:"supabase_url" mapstructure:"supabase_url"`
	SupabaseKey string `json:"supabase_key" mapstructure:"supabase_key"`
	WebURL      string `json:"web_url" mapstructure:"web_url"`
}

// SearchConfig holds web search backend configuration
type SearchConfig struct {
	SerpAPIKey string `json:"serpapi_key" mapstructure:"serpapi_key"`
	DailyLimit int    `json:"daily_limit" mapstructure:"daily_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8001,
			CORSOrigins: []string{"*"},
		},
		Agent: AgentConfig{
			Model:              "qwen/qwq-32b:free",
			Temperature:        0.7,
			MaxTokens:          4096,
			MaxCycles:          10,
			PlanTimeoutSeconds: 60,
			ToolTimeoutSeconds: 30,
		},
		Sessions: SessionsConfig{
			ArchiveAfterHrs: 72,
			ArchiveSchedule: "0 3 * * *",
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Email: EmailConfig{
			DefaultType: "qq",
			Accounts: map[string]EmailAccount{
				"qq": {
					IMAPServer: "imap.qq.com",
					IMAPPort:   993,
					SMTPServer: "smtp.qq.com",
					SMTPPort:   587,
				},
				"gmail": {
					IMAPServer: "imap.gmail.com",
					IMAPPort:   993,
					SMTPServer: "smtp.gmail.com",
					SMTPPort:   587,
				},
				"outlook": {
					IMAPServer: "outlook.office365.com",
					IMAPPort:   993,
					SMTPServer: "smtp.office365.com",
					SMTPPort:   587,
				},
			},
		},
		Knowledge: KnowledgeConfig{},
		Search: SearchConfig{
			DailyLimit: 100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "openai" && profile.Provider != "anthropic" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: openai, anthropic)", profile.ID, profile.Provider)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Agent.MaxCycles < 1 {
		return fmt.Errorf("agent max_cycles must be at least 1, got %d", c.Agent.MaxCycles)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}

	if c.Email.DefaultType != "" {
		if _, ok := c.Email.Accounts[c.Email.DefaultType]; !ok {
			return fmt.Errorf("email default_type %q has no matching account", c.Email.DefaultType)
		}
	}

	return nil
}
