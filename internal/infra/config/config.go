package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"studyportal/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Router  RouterConfig  `yaml:"router"`
	LLM     LLMConfig     `yaml:"llm"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Gateway GatewayConfig `yaml:"gateway"`
	Store   StoreConfig   `yaml:"store"`
	Agents  []AgentConfig `yaml:"agents"`
}

// RouterConfig holds the conversation state-machine tunables.
type RouterConfig struct {
	FallbackAgent       string        `yaml:"fallback_agent"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"` // default 0.55
	MaxHistory          int           `yaml:"max_history"`          // turns kept per conversation
	ClassifierWindow    int           `yaml:"classifier_window"`    // turns shown to the oracle
	OracleTimeout       time.Duration `yaml:"oracle_timeout"`
	ConversationTTL     time.Duration `yaml:"conversation_ttl"`
	ReapSchedule        string        `yaml:"reap_schedule"` // cron spec, e.g. "@every 10m"
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Provider       ProviderConfig       `yaml:"provider"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for the OpenAI-compatible provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for the LLM provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Auth      AuthConfig    `yaml:"auth"`
	RateLimit RateLimit     `yaml:"rate_limit"`
	SendQueue int           `yaml:"send_queue"` // per-client outbound buffer
	WriteWait time.Duration `yaml:"write_wait"`
}

// RateLimit bounds inbound message rate per connection.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
	Role  string `yaml:"role"`
}

// StoreConfig holds assignment record store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file, ":memory:" for ephemeral
	Seed bool   `yaml:"seed"` // insert demo records on first open
}

// AgentConfig defines one agent descriptor in the metadata store.
type AgentConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	RequiredRole string            `yaml:"required_role"`
	Keywords     []string          `yaml:"keywords"`
	Parameters   []ParameterConfig `yaml:"parameters,omitempty"`
}

// ParameterConfig defines one parameter an agent gathers.
type ParameterConfig struct {
	Name     string `yaml:"name"`
	Prompt   string `yaml:"prompt"`
	Required bool   `yaml:"required"`
}

// Descriptors converts the configured agents to domain descriptors.
func (c *Config) Descriptors() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, 0, len(c.Agents))
	for _, a := range c.Agents {
		d := domain.AgentDescriptor{
			ID:           a.ID,
			Name:         a.Name,
			Description:  a.Description,
			RequiredRole: domain.Role(a.RequiredRole),
			Keywords:     a.Keywords,
		}
		for _, p := range a.Parameters {
			d.Parameters = append(d.Parameters, domain.ParameterSpec{
				Name:     p.Name,
				Prompt:   p.Prompt,
				Required: p.Required,
			})
		}
		out = append(out, d)
	}
	return out
}

// Defaults returns a configuration with the built-in study portal agents
// and conservative tunables.
func Defaults() *Config {
	return &Config{
		Router: RouterConfig{
			FallbackAgent:       "faq_fallback",
			ConfidenceThreshold: 0.55,
			MaxHistory:          40,
			ClassifierWindow:    5,
			OracleTimeout:       30 * time.Second,
			ConversationTTL:     2 * time.Hour,
			ReapSchedule:        "@every 10m",
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:        "openai",
				Model:       "gpt-4o-mini",
				Temperature: 0.2,
			},
			CircuitBreaker: CircuitBreakerConfig{Enabled: true},
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
		Gateway: GatewayConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:8765",
			RateLimit: RateLimit{PerSecond: 2, Burst: 5},
			SendQueue: 64,
			WriteWait: 5 * time.Second,
		},
		Store: StoreConfig{Path: "portal.db", Seed: true},
		Agents: []AgentConfig{
			{
				ID:           "assignment_review",
				Name:         "Assignment Review & Insight Agent",
				Description:  "Handles queries about assignments, grades, feedback, performance insights, and past reports",
				RequiredRole: "consultant",
				Keywords: []string{
					"assignment", "grade", "feedback", "status", "due date", "results",
					"performance", "insights", "score", "report", "how did i do", "my work",
				},
				Parameters: []ParameterConfig{
					{Name: "assignment_title", Prompt: "Which assignment are you interested in? Please provide the assignment name or ID.", Required: true},
					{Name: "assignment_id", Required: false},
				},
			},
			{
				ID:           "learning_path",
				Name:         "Learning Path Recommendation Agent",
				Description:  "Provides learning recommendations, course suggestions, and study plans",
				RequiredRole: "consultant",
				Keywords: []string{
					"learn", "study", "recommend", "course", "path", "plan", "guide",
					"resources", "tutorial", "want to learn", "teach me", "improve",
				},
				Parameters: []ParameterConfig{
					{Name: "topic", Prompt: "What topic would you like to learn about?", Required: true},
					{Name: "skill_level", Prompt: "What's your current skill level (beginner, intermediate, or advanced)?", Required: true},
				},
			},
			{
				ID:           "question_generation",
				Name:         "Question Generation Agent",
				Description:  "Generates practice questions, quizzes, and assessments",
				RequiredRole: "admin",
				Keywords: []string{
					"generate", "create", "quiz", "questions", "test", "practice",
					"assessment", "exam",
				},
				Parameters: []ParameterConfig{
					{Name: "topic", Prompt: "What topic should the questions cover?", Required: true},
					{Name: "difficulty", Prompt: "What difficulty level (easy, medium, or hard)?", Required: true},
					{Name: "question_count", Prompt: "How many questions would you like?", Required: true},
				},
			},
			{
				ID:           "faq_fallback",
				Name:         "FAQ & Fallback Agent",
				Description:  "Handles general queries, FAQs, greetings, and fallback scenarios",
				RequiredRole: "all",
				Keywords:     []string{"help", "how to", "what is", "faq", "hello", "hi", "thank"},
			},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts
// secrets, and validates. A missing file yields defaults with overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("PORTAL_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps PORTAL_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTAL_LLM_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("PORTAL_LLM_API_KEY"); v != "" {
		cfg.LLM.Provider.APIKey = v
	}
	if v := os.Getenv("PORTAL_LLM_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}
	if v := os.Getenv("PORTAL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PORTAL_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("PORTAL_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("PORTAL_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("PORTAL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PORTAL_ROUTER_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Router.ConfidenceThreshold = f
		}
	}
}
