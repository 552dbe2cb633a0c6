// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Summary modes for the context window.
const (
	SummaryModeChain = "chain"
	SummaryModeOnce  = "once"
)

// Model providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all application configuration.
type Config struct {
	Port           string        `toml:"port"`
	FrontendURL    string        `toml:"frontend_url"`
	DBPath         string        `toml:"db_path"`
	ProfilePath    string        `toml:"profile_path"`
	CurriculumPath string        `toml:"curriculum_path"`
	SessionTTL     time.Duration `toml:"session_ttl"`
	GRPCHealthAddr string        `toml:"grpc_health_addr"`

	Model           ModelConfig           `toml:"model"`
	Agent           AgentConfig           `toml:"agent"`
	Research        ResearchConfig        `toml:"research"`
	RateLimit       RateLimitConfig       `toml:"rate_limit"`
	SSE             SSEConfig             `toml:"sse"`
	ConversationLog ConversationLogConfig `toml:"conversation_log"`
	Telemetry       TelemetryConfig       `toml:"telemetry"`
}

// ModelConfig selects and tunes the language-model backend.
type ModelConfig struct {
	Provider      string        `toml:"provider"`
	Name          string        `toml:"name"`
	BaseURL       string        `toml:"base_url"`
	APIKey        string        `toml:"api_key"`
	ChatTimeout   time.Duration `toml:"chat_timeout"`
	StreamTimeout time.Duration `toml:"stream_timeout"`
	MaxTokens     int           `toml:"max_tokens"`
}

// AgentConfig controls the agent loop and context window.
type AgentConfig struct {
	Enabled             bool   `toml:"enabled"`
	MaxTurns            int    `toml:"max_turns"`
	MaxHistoryExchanges int    `toml:"max_history_exchanges"`
	HistoryTail         int    `toml:"history_tail"`
	SummaryMode         string `toml:"summary_mode"`
	TokenChunkSize      int    `toml:"token_chunk_size"`
	LogSessions         bool   `toml:"log_sessions"`
}

// ResearchConfig controls company research.
type ResearchConfig struct {
	MaxSources int           `toml:"max_sources"`
	CacheDays  int           `toml:"cache_days"`
	Timeout    time.Duration `toml:"timeout"`
	SearchURL  string        `toml:"search_url"`
}

// RateLimitConfig bounds chat requests per session.
type RateLimitConfig struct {
	RequestsPerWindow int           `toml:"requests_per_window"`
	WindowDuration    time.Duration `toml:"window"`
}

// SSEConfig controls the chat streaming endpoint.
type SSEConfig struct {
	MaxRequestBodySize int64 `toml:"max_request_body_size"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `toml:"enabled"`
	Dir           string `toml:"dir"`
	GlobalEnabled bool   `toml:"global_enabled"`
	GlobalPath    string `toml:"global_path"`
	QueueSize     int    `toml:"queue_size"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8000",
		DBPath:         "./data/studia.db",
		ProfilePath:    "./data/profile.json",
		CurriculumPath: "./data/curriculum.jsonc",
		Model: ModelConfig{
			Provider:      ProviderOllama,
			Name:          "qwen3",
			BaseURL:       "http://localhost:11434",
			ChatTimeout:   120 * time.Second,
			StreamTimeout: 60 * time.Second,
			MaxTokens:     4096,
		},
		Agent: AgentConfig{
			Enabled:             true,
			MaxTurns:            5,
			MaxHistoryExchanges: 30,
			HistoryTail:         10,
			SummaryMode:         SummaryModeChain,
			TokenChunkSize:      64,
			LogSessions:         true,
		},
		Research: ResearchConfig{
			MaxSources: 8,
			CacheDays:  7,
			Timeout:    120 * time.Second,
			SearchURL:  "https://api.duckduckgo.com/",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 20,
			WindowDuration:    time.Minute,
		},
		SSE: SSEConfig{
			MaxRequestBodySize: 1 << 20,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    true,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "studia",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and
// environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.ProfilePath = getEnv("PROFILE_PATH", c.ProfilePath)
	c.CurriculumPath = getEnv("CURRICULUM_PATH", c.CurriculumPath)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.GRPCHealthAddr = getEnv("GRPC_HEALTH_ADDR", c.GRPCHealthAddr)

	c.Model.Provider = strings.ToLower(getEnv("MODEL_PROVIDER", c.Model.Provider))
	c.Model.Name = getEnv("MODEL_NAME", c.Model.Name)
	c.Model.BaseURL = getEnv("MODEL_BASE_URL", c.Model.BaseURL)
	c.Model.APIKey = getEnv("MODEL_API_KEY", c.Model.APIKey)
	c.Model.ChatTimeout = getEnvDuration("CHAT_TIMEOUT", c.Model.ChatTimeout)
	c.Model.StreamTimeout = getEnvDuration("STREAM_TIMEOUT", c.Model.StreamTimeout)
	c.Model.MaxTokens = getEnvInt("MODEL_MAX_TOKENS", c.Model.MaxTokens)

	c.Agent.Enabled = getEnvBool("AGENT_MODE", c.Agent.Enabled)
	c.Agent.MaxTurns = getEnvInt("MAX_AGENT_TURNS", c.Agent.MaxTurns)
	c.Agent.MaxHistoryExchanges = getEnvInt("MAX_HISTORY_EXCHANGES", c.Agent.MaxHistoryExchanges)
	c.Agent.HistoryTail = getEnvInt("HISTORY_TAIL", c.Agent.HistoryTail)
	c.Agent.SummaryMode = strings.ToLower(getEnv("SUMMARY_MODE", c.Agent.SummaryMode))
	c.Agent.TokenChunkSize = getEnvInt("TOKEN_CHUNK_SIZE", c.Agent.TokenChunkSize)
	c.Agent.LogSessions = getEnvBool("LOG_SESSIONS", c.Agent.LogSessions)

	c.Research.MaxSources = getEnvInt("RESEARCH_MAX_SOURCES", c.Research.MaxSources)
	c.Research.CacheDays = getEnvInt("RESEARCH_CACHE_DAYS", c.Research.CacheDays)
	c.Research.Timeout = getEnvDuration("RESEARCH_TIMEOUT", c.Research.Timeout)
	c.Research.SearchURL = getEnv("RESEARCH_SEARCH_URL", c.Research.SearchURL)

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.WindowDuration = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.WindowDuration)
	c.SSE.MaxRequestBodySize = int64(getEnvInt("SSE_MAX_REQUEST_BODY", int(c.SSE.MaxRequestBodySize)))

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)

	c.Telemetry.Enabled = getEnvBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	switch c.Model.Provider {
	case ProviderOllama:
	case ProviderOpenAI, ProviderAnthropic:
		if c.Model.APIKey == "" {
			return fmt.Errorf("MODEL_API_KEY is required for provider %q", c.Model.Provider)
		}
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return errors.New("MODEL_NAME cannot be empty")
	}
	if c.Agent.MaxTurns <= 0 {
		return errors.New("MAX_AGENT_TURNS must be > 0")
	}
	if c.Agent.HistoryTail <= 0 {
		return errors.New("HISTORY_TAIL must be > 0")
	}
	if c.Agent.MaxHistoryExchanges < c.Agent.HistoryTail {
		return errors.New("MAX_HISTORY_EXCHANGES must be >= HISTORY_TAIL")
	}
	if c.Agent.SummaryMode != SummaryModeChain && c.Agent.SummaryMode != SummaryModeOnce {
		return fmt.Errorf("SUMMARY_MODE must be %q or %q", SummaryModeChain, SummaryModeOnce)
	}
	if c.Agent.TokenChunkSize <= 0 {
		return errors.New("TOKEN_CHUNK_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("rate limit requests and window must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return errors.New("SSE_MAX_REQUEST_BODY must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
